package normalize

import (
    "time"

    "github.com/workpulse/workpulse/internal/domain"
)

// JiraStats is the per-user issue and worklog summary.
type JiraStats struct {
    TotalAssignedIssues    int                `json:"total_assigned_issues"`
    TotalCreatedIssues     int                `json:"total_created_issues"`
    TotalResolvedIssues    int                `json:"total_resolved_issues"`
    ResolutionRate         float64            `json:"resolution_rate"`
    StatusDistribution     map[string]int     `json:"status_distribution"`
    PriorityDistribution   map[string]int     `json:"priority_distribution"`
    TotalTimeLoggedSeconds int64              `json:"total_time_logged_seconds"`
    TotalTimeLoggedHours   float64            `json:"total_time_logged_hours"`
    TotalEstimatedSeconds  int64              `json:"total_estimated_seconds"`
    TotalEstimatedHours    float64            `json:"total_estimated_hours"`
    AvgTimePerDaySeconds   float64            `json:"avg_time_per_day_seconds"`
    AvgTimePerDayHours     float64            `json:"avg_time_per_day_hours"`
    WorklogByWeekday       map[string]float64 `json:"worklog_by_weekday"`
    WorklogCount           int                `json:"worklog_count"`
    UniqueProjects         int                `json:"unique_projects"`
    ContextSwitchingScore  int                `json:"context_switching_score"`
}

func uniqueProjects(recs []domain.FetchRecord) int {
    seen := map[string]bool{}
    for _, r := range recs {
        if r.Project != "" { seen[r.Project] = true }
    }
    return len(seen)
}

// ComputeJiraStats summarizes normalized issues and worklogs over a
// window of days. An issue counts as resolved when it carries a
// resolution timestamp. accountID splits the search result (assignee
// OR creator) into assigned and created; without it every issue counts
// as assigned and creator attribution is unavailable.
func ComputeJiraStats(issues, worklogs []domain.FetchRecord, accountID string, days int) JiraStats {
    assigned := issues
    created := 0
    if accountID != "" {
        assigned = nil
        for _, r := range issues {
            if r.ActorID == accountID { assigned = append(assigned, r) }
            if r.ReporterID == accountID { created++ }
        }
    }

    resolved := 0
    var estimated int64
    for _, r := range assigned {
        if r.ResolvedAt != nil { resolved++ }
        estimated += r.EstimateSeconds
    }
    rate := 0.0
    if len(assigned) > 0 { rate = float64(resolved) / float64(len(assigned)) }

    logged := TotalDurationSeconds(worklogs)
    avgPerDay := 0.0
    if days > 0 { avgPerDay = float64(logged) / float64(days) }
    return JiraStats{
        TotalAssignedIssues:    len(assigned),
        TotalCreatedIssues:     created,
        TotalResolvedIssues:    resolved,
        ResolutionRate:         rate,
        StatusDistribution:     CountByStatus(assigned),
        PriorityDistribution:   CountByPriority(assigned),
        TotalTimeLoggedSeconds: logged,
        TotalTimeLoggedHours:   float64(logged) / 3600,
        TotalEstimatedSeconds:  estimated,
        TotalEstimatedHours:    float64(estimated) / 3600,
        AvgTimePerDaySeconds:   avgPerDay,
        AvgTimePerDayHours:     avgPerDay / 3600,
        WorklogByWeekday:       HoursByWeekday(worklogs),
        WorklogCount:           len(worklogs),
        UniqueProjects:         uniqueProjects(assigned),
        ContextSwitchingScore:  uniqueProjects(assigned),
    }
}

// SlackStats is the per-user messaging summary.
type SlackStats struct {
    TotalMessages     int         `json:"total_messages"`
    UniqueChannels    int         `json:"unique_channels"`
    MessagesByHour    map[int]int `json:"messages_by_hour"`
    AfterHoursCount   int         `json:"after_hours_count"`
    AfterHoursRatio   float64     `json:"after_hours_ratio"`
    AvgMessagesPerDay float64     `json:"avg_messages_per_day"`
}

func ComputeSlackStats(messages []domain.FetchRecord, days, workStart, workEnd int) SlackStats {
    after := AfterHours(messages, workStart, workEnd)
    ratio := 0.0
    if len(messages) > 0 { ratio = float64(after) / float64(len(messages)) }
    avg := 0.0
    if days > 0 { avg = float64(len(messages)) / float64(days) }
    return SlackStats{
        TotalMessages:     len(messages),
        UniqueChannels:    uniqueProjects(messages),
        MessagesByHour:    CountByHour(messages),
        AfterHoursCount:   after,
        AfterHoursRatio:   ratio,
        AvgMessagesPerDay: avg,
    }
}

// AsanaStats is the per-user task summary.
type AsanaStats struct {
    TotalTasks            int            `json:"total_tasks"`
    CompletedTasks        int            `json:"completed_tasks"`
    IncompleteTasks       int            `json:"incomplete_tasks"`
    CompletionRate        float64        `json:"completion_rate"`
    OverdueCount          int            `json:"overdue_count"`
    OverdueRatio          float64        `json:"overdue_ratio"`
    UniqueProjects        int            `json:"unique_projects"`
    StatusDistribution    map[string]int `json:"status_distribution"`
    TasksByWeekday        map[string]int `json:"tasks_by_weekday"`
    AvgTasksPerDay        float64        `json:"avg_tasks_per_day"`
    ContextSwitchingScore int            `json:"context_switching_score"`
    TotalSubtasks         int64          `json:"total_subtasks"`
    AvgSubtasksPerTask    float64        `json:"avg_subtasks_per_task"`
}

// ComputeAsanaStats treats a task as overdue when its due date passed
// before asOf and the task is still open. The overdue ratio is taken
// over incomplete tasks only. asOf and days are parameters so the
// computation stays reproducible.
func ComputeAsanaStats(tasks []domain.FetchRecord, asOf time.Time, days int) AsanaStats {
    completed, overdue := 0, 0
    var subtasks int64
    for _, r := range tasks {
        if r.Status == "completed" { completed++ }
        subtasks += r.EstimateSeconds
        if r.DueAt != nil && r.Status != "completed" && r.DueAt.Before(asOf) {
            overdue++
        }
    }
    incomplete := len(tasks) - completed
    completionRate, overdueRatio, avgSubtasks, avgPerDay := 0.0, 0.0, 0.0, 0.0
    if len(tasks) > 0 {
        completionRate = float64(completed) / float64(len(tasks))
        avgSubtasks = float64(subtasks) / float64(len(tasks))
    }
    if incomplete > 0 { overdueRatio = float64(overdue) / float64(incomplete) }
    if days > 0 { avgPerDay = float64(len(tasks)) / float64(days) }
    return AsanaStats{
        TotalTasks:            len(tasks),
        CompletedTasks:        completed,
        IncompleteTasks:       incomplete,
        CompletionRate:        completionRate,
        OverdueCount:          overdue,
        OverdueRatio:          overdueRatio,
        UniqueProjects:        ContextSwitchingScore(tasks),
        StatusDistribution:    CountByStatus(tasks),
        TasksByWeekday:        CountByWeekday(tasks),
        AvgTasksPerDay:        avgPerDay,
        ContextSwitchingScore: ContextSwitchingScore(tasks),
        TotalSubtasks:         subtasks,
        AvgSubtasksPerTask:    avgSubtasks,
    }
}
