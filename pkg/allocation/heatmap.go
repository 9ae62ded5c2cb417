// Package allocation aggregates scheduled task hours into a per-resource,
// per-week heat map.
package allocation

import (
	"sort"
	"time"
)

// Task is a scheduled piece of work with hours allocated to one resource.
type Task struct {
	Resource string    `json:"resource"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Hours    float64   `json:"hours"`
}

// WeekLoad is the summed hours for one resource in one week.
type WeekLoad struct {
	Resource  string  `json:"resource"`
	WeekStart string  `json:"week_start"`
	Hours     float64 `json:"hours"`
}

// weekStartKey returns the ISO week start (Monday) of d as a date string.
func weekStartKey(d time.Time) string {
	weekday := int(d.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	monday := d.AddDate(0, 0, 1-weekday)
	return monday.Format("2006-01-02")
}

func isWorkingDay(d time.Time) bool {
	return d.Weekday() != time.Saturday && d.Weekday() != time.Sunday
}

// workingDays returns each Monday-Friday day in [start, end] at midnight UTC.
func workingDays(start, end time.Time) []time.Time {
	start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	end = time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)

	var days []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if isWorkingDay(d) {
			days = append(days, d)
		}
	}
	return days
}

// Aggregate distributes each task's hours evenly across its working days
// (Monday-Friday), buckets the days by ISO week start, and sums hours per
// resource per week. Tasks spanning no working days contribute nothing.
// Results are ordered by resource then week for stable rendering.
func Aggregate(tasks []Task) []WeekLoad {
	totals := make(map[string]map[string]float64)

	for _, task := range tasks {
		if task.Hours == 0 || task.End.Before(task.Start) {
			continue
		}
		days := workingDays(task.Start, task.End)
		if len(days) == 0 {
			continue
		}
		perDay := task.Hours / float64(len(days))

		weeks := totals[task.Resource]
		if weeks == nil {
			weeks = make(map[string]float64)
			totals[task.Resource] = weeks
		}
		for _, day := range days {
			weeks[weekStartKey(day)] += perDay
		}
	}

	var loads []WeekLoad
	for resource, weeks := range totals {
		for week, hours := range weeks {
			loads = append(loads, WeekLoad{Resource: resource, WeekStart: week, Hours: hours})
		}
	}
	sort.Slice(loads, func(i, j int) bool {
		if loads[i].Resource != loads[j].Resource {
			return loads[i].Resource < loads[j].Resource
		}
		return loads[i].WeekStart < loads[j].WeekStart
	})
	return loads
}
