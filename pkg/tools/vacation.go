package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const isoDate = "2006-01-02"

// VacationRequest is the input of the vacation_request tool.
type VacationRequest struct {
	Start  string  `json:"start"`
	End    *string `json:"end,omitempty"`
	Days   *int    `json:"days,omitempty"`
	Reason string  `json:"reason,omitempty"`
}

// VacationRequester turns loose date expressions, in English or Spanish,
// into a concrete vacation range. Now is the reference clock.
type VacationRequester struct {
	Now func() time.Time
}

func NewVacationRequester() *VacationRequester {
	return &VacationRequester{Now: time.Now}
}

func (*VacationRequester) Name() string { return "vacation_request" }

func (*VacationRequester) Description() string {
	return `Requests vacation days. Input is JSON: {"start": "...", "end": "...", "days": N, "reason": "..."}. ` +
		`start and end accept "2/3/2026", "2026-03-02", "hoy", "mañana", "lunes", "el próximo viernes" or "next friday". ` +
		`Give either end or days.`
}

func (v *VacationRequester) Call(_ context.Context, input string) (string, error) {
	var req VacationRequest
	if err := json.Unmarshal([]byte(input), &req); err != nil {
		// a bare string is taken as the start date of a single day
		req = VacationRequest{Start: strings.Trim(input, "\" \t\n")}
		one := 1
		req.Days = &one
	}

	res, err := v.Request(req)
	if err != nil {
		return encode(errorResult(err))
	}
	return encode(res)
}

// Request resolves the dates in req.
func (v *VacationRequester) Request(req VacationRequest) (Result, error) {
	today := v.now()

	start, err := ParseDate(req.Start, today)
	if err != nil {
		return Result{}, err
	}

	var end time.Time
	switch {
	case req.End != nil && strings.TrimSpace(*req.End) != "":
		end, err = ParseDate(*req.End, today)
		if err != nil {
			return Result{}, err
		}
	case req.Days != nil:
		if *req.Days < 1 {
			return Result{}, fmt.Errorf("days must be at least 1, got %d", *req.Days)
		}
		end = start.AddDate(0, 0, *req.Days-1)
	default:
		return Result{}, errors.New("either an end date or a number of days is required")
	}

	if end.Before(start) {
		return Result{}, fmt.Errorf("end date %s is before start date %s", end.Format(isoDate), start.Format(isoDate))
	}

	msg := fmt.Sprintf("Vacaciones solicitadas desde %s hasta %s", start.Format(isoDate), end.Format(isoDate))
	if req.Reason != "" {
		msg += " por motivo: " + req.Reason
	}

	return Result{
		Status:    StatusSuccess,
		StartDate: start.Format(isoDate),
		EndDate:   end.Format(isoDate),
		Message:   msg,
	}, nil
}

func (v *VacationRequester) now() time.Time {
	if v.Now == nil {
		return time.Now()
	}
	return v.Now()
}

var (
	dmyPattern = regexp.MustCompile(`^(\d{1,2})[/-](\d{1,2})[/-](\d{4})$`)
	isoPattern = regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})$`)

	weekdays = map[string]time.Weekday{
		"monday": time.Monday, "tuesday": time.Tuesday, "wednesday": time.Wednesday,
		"thursday": time.Thursday, "friday": time.Friday, "saturday": time.Saturday,
		"sunday": time.Sunday,
		"lunes": time.Monday, "martes": time.Tuesday, "miercoles": time.Wednesday,
		"jueves": time.Thursday, "viernes": time.Friday, "sabado": time.Saturday,
		"domingo": time.Sunday,
	}

	relativeDays = map[string]int{
		"today": 0, "hoy": 0,
		"tomorrow": 1, "manana": 1,
		"day after tomorrow": 2, "pasado manana": 2,
	}

	weekdayPrefixes = []string{"el proximo ", "la proxima ", "el ", "next ", "proximo ", "this "}

	unaccent = strings.NewReplacer("á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ü", "u", "ñ", "n")
)

// ParseDate resolves value relative to today. Numeric dates are day-first.
// Weekday names resolve to the nearest occurrence strictly after today.
func ParseDate(value string, today time.Time) (time.Time, error) {
	s := unaccent.Replace(strings.ToLower(strings.Join(strings.Fields(value), " ")))
	if s == "" {
		return time.Time{}, errors.New("a date is required")
	}
	base := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)

	if m := isoPattern.FindStringSubmatch(s); m != nil {
		return civil(m[1], m[2], m[3], value)
	}
	if m := dmyPattern.FindStringSubmatch(s); m != nil {
		return civil(m[3], m[2], m[1], value)
	}
	if n, ok := relativeDays[s]; ok {
		return base.AddDate(0, 0, n), nil
	}

	name := s
	for _, prefix := range weekdayPrefixes {
		if strings.HasPrefix(name, prefix) {
			name = strings.TrimPrefix(name, prefix)
			break
		}
	}
	if wd, ok := weekdays[name]; ok {
		delta := (int(wd) - int(base.Weekday()) + 7) % 7
		if delta == 0 {
			delta = 7
		}
		return base.AddDate(0, 0, delta), nil
	}

	return time.Time{}, fmt.Errorf("cannot interpret date %q", value)
}

func civil(year, month, day, value string) (time.Time, error) {
	y, _ := strconv.Atoi(year)
	m, _ := strconv.Atoi(month)
	d, _ := strconv.Atoi(day)
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	// time.Date normalises 31/2 into March; reject instead
	if t.Year() != y || int(t.Month()) != m || t.Day() != d {
		return time.Time{}, fmt.Errorf("invalid date %q", value)
	}
	return t, nil
}
