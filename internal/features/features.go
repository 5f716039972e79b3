/* Copyright (c) 2025 WorkPulse Authors
 * SPDX-License-Identifier: BSD-3-Clause */

// Package features derives per-user work-pattern indicators from
// normalized records. All computations are deterministic functions of
// their inputs.
package features

import (
    "math"
    "sort"
    "time"

    "github.com/workpulse/workpulse/internal/domain"
    "github.com/workpulse/workpulse/internal/normalize"
)

type Extractor struct {
    WorkdayStart int
    WorkdayEnd   int
}

func NewExtractor(workdayStart, workdayEnd int) *Extractor {
    return &Extractor{WorkdayStart: workdayStart, WorkdayEnd: workdayEnd}
}

type CalendarFeatures struct {
    TotalMeetings      int                `json:"total_meetings"`
    TotalMeetingHours  float64            `json:"total_meeting_hours"`
    AvgMeetingMinutes  float64            `json:"avg_meeting_minutes"`
    MeetingsByWeekday  map[string]int     `json:"meetings_by_weekday"`
    AfterHoursMeetings int                `json:"after_hours_meetings"`
    MeetingHoursPerDay map[string]float64 `json:"meeting_hours_by_weekday"`
}

func (e *Extractor) Calendar(events []domain.FetchRecord) CalendarFeatures {
    total := normalize.TotalDurationSeconds(events)
    avg := 0.0
    if len(events) > 0 { avg = float64(total) / float64(len(events)) / 60 }
    return CalendarFeatures{
        TotalMeetings:      len(events),
        TotalMeetingHours:  float64(total) / 3600,
        AvgMeetingMinutes:  avg,
        MeetingsByWeekday:  normalize.CountByWeekday(events),
        AfterHoursMeetings: normalize.AfterHours(events, e.WorkdayStart, e.WorkdayEnd),
        MeetingHoursPerDay: normalize.HoursByWeekday(events),
    }
}

type CommunicationFeatures struct {
    TotalMessages   int     `json:"total_messages"`
    TotalEmails     int     `json:"total_emails"`
    AfterHoursRatio float64 `json:"after_hours_ratio"`
    // Balance is 1.0 when chat and email volume are even, approaching
    // 0 as one medium dominates.
    Balance float64 `json:"communication_balance"`
    // Burstiness is stddev/mean of the gaps between consecutive
    // messages, capped at 1. Evenly paced messaging scores low.
    Burstiness       float64 `json:"burstiness"`
    ThreadReplyShare float64 `json:"thread_reply_share"`
}

func (e *Extractor) Communication(messages, emails []domain.FetchRecord) CommunicationFeatures {
    totalComms := len(messages) + len(emails)
    after := normalize.AfterHours(messages, e.WorkdayStart, e.WorkdayEnd) +
        normalize.AfterHours(emails, e.WorkdayStart, e.WorkdayEnd)
    ratio := 0.0
    if totalComms > 0 { ratio = float64(after) / float64(totalComms) }

    balance := 0.0
    if totalComms > 0 {
        major := len(messages)
        if len(emails) > major { major = len(emails) }
        balance = 2 * (1 - float64(major)/float64(totalComms))
    }

    replies := 0
    for _, r := range messages {
        if r.Status == "thread_reply" { replies++ }
    }
    replyShare := 0.0
    if len(messages) > 0 { replyShare = float64(replies) / float64(len(messages)) }

    return CommunicationFeatures{
        TotalMessages:    len(messages),
        TotalEmails:      len(emails),
        AfterHoursRatio:  ratio,
        Balance:          balance,
        Burstiness:       burstiness(messages),
        ThreadReplyShare: replyShare,
    }
}

func burstiness(messages []domain.FetchRecord) float64 {
    var times []time.Time
    for _, r := range messages {
        if r.CreatedAt != nil { times = append(times, *r.CreatedAt) }
    }
    if len(times) < 3 { return 0 }
    sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

    gaps := make([]float64, 0, len(times)-1)
    var sum float64
    for i := 1; i < len(times); i++ {
        g := times[i].Sub(times[i-1]).Minutes()
        gaps = append(gaps, g)
        sum += g
    }
    mean := sum / float64(len(gaps))
    if mean == 0 { return 0 }
    var ss float64
    for _, g := range gaps {
        d := g - mean
        ss += d * d
    }
    b := math.Sqrt(ss/float64(len(gaps))) / mean
    if b > 1 { b = 1 }
    return b
}

type TaskFeatures struct {
    TotalTasks     int     `json:"total_tasks"`
    CompletedTasks int     `json:"completed_tasks"`
    CompletionRate float64 `json:"completion_rate"`
    AvgAgeDays     float64 `json:"avg_age_days"`
    // OverdueRatio is overdue open tasks over all open tasks.
    OverdueRatio  float64 `json:"overdue_ratio"`
    ContextSwitch int     `json:"context_switching_score"`
}

func (e *Extractor) Tasks(tasks []domain.FetchRecord, asOf time.Time) TaskFeatures {
    completed, overdue, aged := 0, 0, 0
    var ageDays float64
    for _, r := range tasks {
        done := r.Status == "completed" || r.ResolvedAt != nil
        if done { completed++ }
        if !done && r.DueAt != nil && r.DueAt.Before(asOf) { overdue++ }
        if r.CreatedAt != nil && r.CreatedAt.Before(asOf) {
            ageDays += asOf.Sub(*r.CreatedAt).Hours() / 24
            aged++
        }
    }
    rate, avgAge, overdueRatio := 0.0, 0.0, 0.0
    if len(tasks) > 0 { rate = float64(completed) / float64(len(tasks)) }
    if aged > 0 { avgAge = ageDays / float64(aged) }
    if open := len(tasks) - completed; open > 0 { overdueRatio = float64(overdue) / float64(open) }
    return TaskFeatures{
        TotalTasks:     len(tasks),
        CompletedTasks: completed,
        CompletionRate: rate,
        AvgAgeDays:     avgAge,
        OverdueRatio:   overdueRatio,
        ContextSwitch:  normalize.ContextSwitchingScore(tasks),
    }
}

type WorklogFeatures struct {
    TotalHoursLogged float64 `json:"total_hours_logged"`
    // Adherence compares logged hours to an 8-hour weekday schedule
    // over the analysis window, capped at 1.
    HoursAdherence float64 `json:"hours_adherence"`
    // DailyHoursVariance is the population variance of hours logged
    // per active day.
    DailyHoursVariance float64 `json:"daily_hours_variance"`
    // LateStartDays counts active days whose first entry started at
    // or after 10:00.
    LateStartDays int `json:"late_start_days"`
}

func (e *Extractor) Worklogs(worklogs []domain.FetchRecord, windowDays int) WorklogFeatures {
    hours := float64(normalize.TotalDurationSeconds(worklogs)) / 3600
    adherence := 0.0
    if windowDays > 0 {
        expected := float64(windowDays) * 5 / 7 * 8
        if expected > 0 {
            adherence = hours / expected
            if adherence > 1 { adherence = 1 }
        }
    }

    hoursByDay := map[string]float64{}
    firstByDay := map[string]time.Time{}
    for _, r := range worklogs {
        if r.CreatedAt == nil { continue }
        day := r.CreatedAt.Format("2006-01-02")
        hoursByDay[day] += float64(r.DurationSeconds) / 3600
        if f, ok := firstByDay[day]; !ok || r.CreatedAt.Before(f) { firstByDay[day] = *r.CreatedAt }
    }

    days := make([]string, 0, len(hoursByDay))
    for d := range hoursByDay { days = append(days, d) }
    sort.Strings(days)

    variance := 0.0
    if len(days) > 0 {
        var sum float64
        for _, d := range days { sum += hoursByDay[d] }
        mean := sum / float64(len(days))
        for _, d := range days {
            diff := hoursByDay[d] - mean
            variance += diff * diff
        }
        variance /= float64(len(days))
    }

    late := 0
    for _, first := range firstByDay {
        if first.Hour() >= 10 { late++ }
    }

    return WorklogFeatures{
        TotalHoursLogged:   hours,
        HoursAdherence:     adherence,
        DailyHoursVariance: variance,
        LateStartDays:      late,
    }
}

// Features is the combined per-user profile for one analysis window.
type Features struct {
    Calendar      CalendarFeatures      `json:"calendar"`
    Communication CommunicationFeatures `json:"communication"`
    Tasks         TaskFeatures          `json:"tasks"`
    Worklogs      WorklogFeatures       `json:"worklogs"`
    // PerformanceScore weights task completion at one half and splits
    // the rest between communication balance and hours adherence.
    PerformanceScore float64 `json:"performance_score"`
}

type Input struct {
    Events   []domain.FetchRecord
    Messages []domain.FetchRecord
    Emails   []domain.FetchRecord
    Tasks    []domain.FetchRecord
    Worklogs []domain.FetchRecord
    Days     int
    AsOf     time.Time
}

func (e *Extractor) ExtractAll(in Input) Features {
    f := Features{
        Calendar:      e.Calendar(in.Events),
        Communication: e.Communication(in.Messages, in.Emails),
        Tasks:         e.Tasks(in.Tasks, in.AsOf),
        Worklogs:      e.Worklogs(in.Worklogs, in.Days),
    }
    f.PerformanceScore = 0.5*f.Tasks.CompletionRate +
        0.25*f.Communication.Balance +
        0.25*f.Worklogs.HoursAdherence
    return f
}
