package normalize

import (
    "time"

    "github.com/workpulse/workpulse/internal/domain"
)

// Weekdays in reporting order. Aggregate maps always carry all seven
// keys so consumers never need presence checks.
var Weekdays = []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

func CountByStatus(recs []domain.FetchRecord) map[string]int {
    out := map[string]int{}
    for _, r := range recs {
        if r.Status != "" { out[r.Status]++ }
    }
    return out
}

func CountByPriority(recs []domain.FetchRecord) map[string]int {
    out := map[string]int{}
    for _, r := range recs {
        if r.Priority != "" { out[r.Priority]++ }
    }
    return out
}

func TotalDurationSeconds(recs []domain.FetchRecord) int64 {
    var total int64
    for _, r := range recs { total += r.DurationSeconds }
    return total
}

// HoursByWeekday buckets record durations by the weekday of CreatedAt.
func HoursByWeekday(recs []domain.FetchRecord) map[string]float64 {
    out := make(map[string]float64, len(Weekdays))
    for _, d := range Weekdays { out[d] = 0 }
    for _, r := range recs {
        if r.CreatedAt == nil { continue }
        out[r.CreatedAt.Weekday().String()] += float64(r.DurationSeconds) / 3600
    }
    return out
}

func CountByWeekday(recs []domain.FetchRecord) map[string]int {
    out := make(map[string]int, len(Weekdays))
    for _, d := range Weekdays { out[d] = 0 }
    for _, r := range recs {
        if r.CreatedAt == nil { continue }
        out[r.CreatedAt.Weekday().String()]++
    }
    return out
}

func CountByHour(recs []domain.FetchRecord) map[int]int {
    out := map[int]int{}
    for _, r := range recs {
        if r.CreatedAt == nil { continue }
        out[r.CreatedAt.Hour()]++
    }
    return out
}

// ContextSwitchingScore counts distinct project or channel tags across
// the records. Both the Project field and explicit Tags participate.
func ContextSwitchingScore(recs []domain.FetchRecord) int {
    seen := map[string]bool{}
    for _, r := range recs {
        if r.Project != "" { seen[r.Project] = true }
        for _, t := range r.Tags {
            if t != "" { seen[t] = true }
        }
    }
    return len(seen)
}

// AfterHours counts records created outside [workStart, workEnd) local
// hours or on weekends.
func AfterHours(recs []domain.FetchRecord, workStart, workEnd int) int {
    n := 0
    for _, r := range recs {
        if r.CreatedAt == nil { continue }
        h := r.CreatedAt.Hour()
        wd := r.CreatedAt.Weekday()
        if h < workStart || h >= workEnd || wd == time.Saturday || wd == time.Sunday { n++ }
    }
    return n
}
