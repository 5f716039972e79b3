/* Copyright (c) 2025 WorkPulse Authors
 * SPDX-License-Identifier: BSD-3-Clause */

// Package normalize maps raw provider payloads onto the canonical
// record shape. Mappers are pure: same input, same output, no clock
// and no network.
package normalize

import (
    "fmt"
    "strconv"
    "strings"
    "time"

    "github.com/workpulse/workpulse/internal/domain"
)

// Records dispatches to the mapper for one (provider, kind) pair.
// Unknown pairs return an error rather than silently dropping data.
func Records(provider domain.Provider, kind domain.ResourceKind, raw []map[string]any) ([]domain.FetchRecord, error) {
    var mapOne func(map[string]any) domain.FetchRecord
    switch {
    case provider == domain.ProviderJira && kind == domain.KindIssues:
        mapOne = JiraIssue
    case provider == domain.ProviderJira && kind == domain.KindWorklogs:
        mapOne = JiraWorklog
    case provider == domain.ProviderSlack && kind == domain.KindMessages:
        mapOne = SlackMessage
    case provider == domain.ProviderSlack && kind == domain.KindReactions:
        mapOne = SlackReaction
    case provider == domain.ProviderMicrosoft && kind == domain.KindCalendar:
        mapOne = GraphEvent
    case provider == domain.ProviderMicrosoft && kind == domain.KindEmail:
        mapOne = GraphMessage
    case provider == domain.ProviderMicrosoft && kind == domain.KindTeams:
        mapOne = GraphChatMessage
    case provider == domain.ProviderAsana && kind == domain.KindTasks:
        mapOne = AsanaTask
    case provider == domain.ProviderAsana && kind == domain.KindProjects:
        mapOne = AsanaProject
    default:
        return nil, fmt.Errorf("normalize: no mapper for %s/%s", provider, kind)
    }
    out := make([]domain.FetchRecord, 0, len(raw))
    for _, m := range raw {
        out = append(out, mapOne(m))
    }
    return out, nil
}

// JiraIssue flattens a /search issue: status, priority, assignee and
// time tracking come out of the fields envelope.
func JiraIssue(m map[string]any) domain.FetchRecord {
    fields, _ := m["fields"].(map[string]any)
    rec := domain.FetchRecord{
        ExternalID: str(m, "key"),
        Title:      str(fields, "summary"),
        CreatedAt:  jiraTime(str(fields, "created")),
        UpdatedAt:  jiraTime(str(fields, "updated")),
        ResolvedAt: jiraTime(str(fields, "resolutiondate")),
    }
    if st, ok := fields["status"].(map[string]any); ok { rec.Status = str(st, "name") }
    if pr, ok := fields["priority"].(map[string]any); ok { rec.Priority = str(pr, "name") }
    if as, ok := fields["assignee"].(map[string]any); ok { rec.ActorID = str(as, "accountId") }
    if cr, ok := fields["creator"].(map[string]any); ok { rec.ReporterID = str(cr, "accountId") }
    if pj, ok := fields["project"].(map[string]any); ok { rec.Project = str(pj, "key") }
    if tt, ok := fields["timetracking"].(map[string]any); ok {
        rec.DurationSeconds = i64(tt, "timeSpentSeconds")
        rec.EstimateSeconds = i64(tt, "originalEstimateSeconds")
    }
    if labels, ok := fields["labels"].([]any); ok {
        for _, l := range labels {
            if s, ok := l.(string); ok && s != "" { rec.Tags = append(rec.Tags, s) }
        }
    }
    return rec
}

func JiraWorklog(m map[string]any) domain.FetchRecord {
    rec := domain.FetchRecord{
        ExternalID:      str(m, "id"),
        Title:           str(m, "issue_key"),
        Project:         str(m, "project_key"),
        CreatedAt:       jiraTime(str(m, "started")),
        DurationSeconds: i64(m, "timeSpentSeconds"),
    }
    if au, ok := m["author"].(map[string]any); ok { rec.ActorID = str(au, "accountId") }
    return rec
}

// SlackMessage maps a channel history entry. Slack timestamps are
// "seconds.micros" strings. An entry whose thread_ts differs from its
// own ts is a reply inside a thread.
func SlackMessage(m map[string]any) domain.FetchRecord {
    rec := domain.FetchRecord{
        ExternalID: str(m, "ts"),
        Title:      str(m, "text"),
        Status:     "message",
        ActorID:    str(m, "user"),
        Project:    str(m, "channel_name"),
        CreatedAt:  slackTime(str(m, "ts")),
    }
    if tts := str(m, "thread_ts"); tts != "" && tts != rec.ExternalID { rec.Status = "thread_reply" }
    return rec
}

func SlackReaction(m map[string]any) domain.FetchRecord {
    rec := domain.FetchRecord{}
    if msg, ok := m["message"].(map[string]any); ok {
        rec.ExternalID = str(msg, "ts")
        rec.ActorID = str(msg, "user")
        rec.CreatedAt = slackTime(str(msg, "ts"))
        if reactions, ok := msg["reactions"].([]any); ok {
            for _, r := range reactions {
                if rm, ok := r.(map[string]any); ok {
                    if name := str(rm, "name"); name != "" { rec.Tags = append(rec.Tags, name) }
                }
            }
        }
    }
    rec.Project = str(m, "channel")
    return rec
}

// GraphEvent maps a calendarView entry; duration is end minus start.
func GraphEvent(m map[string]any) domain.FetchRecord {
    rec := domain.FetchRecord{
        ExternalID: str(m, "id"),
        Title:      str(m, "subject"),
        Status:     str(m, "showAs"),
    }
    startAt := graphDateTime(m, "start")
    endAt := graphDateTime(m, "end")
    rec.CreatedAt = startAt
    if startAt != nil && endAt != nil {
        rec.DurationSeconds = int64(endAt.Sub(*startAt).Seconds())
    }
    if org, ok := m["organizer"].(map[string]any); ok {
        if email, ok := org["emailAddress"].(map[string]any); ok { rec.ActorID = str(email, "address") }
    }
    return rec
}

func GraphMessage(m map[string]any) domain.FetchRecord {
    rec := domain.FetchRecord{
        ExternalID: str(m, "id"),
        Title:      str(m, "subject"),
        Priority:   str(m, "importance"),
        CreatedAt:  rfcTime(str(m, "receivedDateTime")),
    }
    if read, ok := m["isRead"].(bool); ok && read { rec.Status = "read" } else { rec.Status = "unread" }
    if from, ok := m["from"].(map[string]any); ok {
        if email, ok := from["emailAddress"].(map[string]any); ok { rec.ActorID = str(email, "address") }
    }
    return rec
}

// GraphChatMessage maps one message pulled from /chats/{id}/messages.
func GraphChatMessage(m map[string]any) domain.FetchRecord {
    rec := domain.FetchRecord{
        ExternalID: str(m, "id"),
        Status:     str(m, "messageType"),
        Project:    str(m, "chatId"),
        CreatedAt:  rfcTime(str(m, "createdDateTime")),
        UpdatedAt:  rfcTime(str(m, "lastModifiedDateTime")),
    }
    if body, ok := m["body"].(map[string]any); ok { rec.Title = str(body, "content") }
    if from, ok := m["from"].(map[string]any); ok {
        if u, ok := from["user"].(map[string]any); ok { rec.ActorID = str(u, "id") }
    }
    return rec
}

// AsanaTask carries project memberships as tags so distinct-project
// aggregation sees multi-homed tasks.
func AsanaTask(m map[string]any) domain.FetchRecord {
    rec := domain.FetchRecord{
        ExternalID: str(m, "gid"),
        Title:      str(m, "name"),
        CreatedAt:  rfcTime(str(m, "created_at")),
        UpdatedAt:  rfcTime(str(m, "modified_at")),
        ResolvedAt: rfcTime(str(m, "completed_at")),
        DueAt:      dateTimePtr(str(m, "due_on")),
    }
    if completed, ok := m["completed"].(bool); ok && completed { rec.Status = "completed" } else { rec.Status = "open" }
    if as, ok := m["assignee"].(map[string]any); ok { rec.ActorID = str(as, "gid") }
    rec.DurationSeconds = 0
    rec.EstimateSeconds = i64(m, "num_subtasks")
    if projects, ok := m["projects"].([]any); ok {
        for _, p := range projects {
            if pm, ok := p.(map[string]any); ok {
                if name := str(pm, "name"); name != "" {
                    if rec.Project == "" { rec.Project = name }
                    rec.Tags = append(rec.Tags, name)
                }
            }
        }
    }
    return rec
}

func AsanaProject(m map[string]any) domain.FetchRecord {
    rec := domain.FetchRecord{
        ExternalID: str(m, "gid"),
        Title:      str(m, "name"),
        CreatedAt:  rfcTime(str(m, "created_at")),
        UpdatedAt:  rfcTime(str(m, "modified_at")),
    }
    if archived, ok := m["archived"].(bool); ok && archived { rec.Status = "archived" } else { rec.Status = "active" }
    return rec
}

func str(m map[string]any, key string) string {
    if m == nil { return "" }
    s, _ := m[key].(string)
    return s
}

func i64(m map[string]any, key string) int64 {
    if m == nil { return 0 }
    switch v := m[key].(type) {
    case float64:
        return int64(v)
    case int64:
        return v
    case int:
        return int64(v)
    case string:
        n, _ := strconv.ParseInt(v, 10, 64)
        return n
    }
    return 0
}

func rfcTime(s string) *time.Time {
    if s == "" { return nil }
    t, err := time.Parse(time.RFC3339, s)
    if err != nil { return nil }
    return &t
}

// jiraTime parses Jira's "2006-01-02T15:04:05.000-0700" format.
func jiraTime(s string) *time.Time {
    if s == "" { return nil }
    t, err := time.Parse("2006-01-02T15:04:05.000-0700", s)
    if err != nil { return rfcTime(s) }
    return &t
}

func slackTime(ts string) *time.Time {
    if ts == "" { return nil }
    secs, _, _ := strings.Cut(ts, ".")
    n, err := strconv.ParseInt(secs, 10, 64)
    if err != nil { return nil }
    t := time.Unix(n, 0).UTC()
    return &t
}

func dateTimePtr(s string) *time.Time {
    if s == "" { return nil }
    t, err := time.Parse("2006-01-02", s)
    if err != nil { return nil }
    return &t
}

// graphDateTime reads Graph's {dateTime, timeZone} envelope.
func graphDateTime(m map[string]any, key string) *time.Time {
    env, ok := m[key].(map[string]any)
    if !ok { return nil }
    raw := str(env, "dateTime")
    if raw == "" { return nil }
    loc := time.UTC
    if tz := str(env, "timeZone"); tz != "" {
        if l, err := time.LoadLocation(tz); err == nil { loc = l }
    }
    t, err := time.ParseInLocation("2006-01-02T15:04:05.0000000", raw, loc)
    if err != nil {
        if t2, err2 := time.ParseInLocation("2006-01-02T15:04:05", raw, loc); err2 == nil {
            return &t2
        }
        return nil
    }
    return &t
}
