package schedule

import (
	"testing"

	"salepa/backend/internal/domain"
)

func TestParseClock(t *testing.T) {
	cases := []struct {
		in   string
		want int
		ok   bool
	}{
		{"00:00", 0, true},
		{"09:30", 570, true},
		{"23:59", 1439, true},
		{" 10:15 ", 615, true},
		{"24:00", 0, false},
		{"10:60", 0, false},
		{"1030", 0, false},
		{"", 0, false},
		{"aa:bb", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseClock(tc.in)
		if tc.ok && (err != nil || got != tc.want) {
			t.Errorf("ParseClock(%q) = %d, %v; want %d", tc.in, got, err, tc.want)
		}
		if !tc.ok && err == nil {
			t.Errorf("ParseClock(%q) expected error", tc.in)
		}
	}
}

func TestFormatClockRoundTrip(t *testing.T) {
	for _, minutes := range []int{0, 570, 615, 1439} {
		parsed, err := ParseClock(FormatClock(minutes))
		if err != nil {
			t.Fatalf("round trip %d: %v", minutes, err)
		}
		if parsed != minutes {
			t.Fatalf("round trip %d = %d", minutes, parsed)
		}
	}
}

func dayFixture() []domain.Appointment {
	return []domain.Appointment{
		{
			ID:        "apt-01",
			Code:      "LH000001",
			Date:      "2026-09-15",
			StartTime: "09:00",
			EndTime:   "10:30",
			Status:    domain.AppointmentStatusPending,
			Services: []domain.AppointmentService{
				{ProductID: "svc-facial-01", TechnicianID: "tech-01"},
			},
		},
		{
			ID:        "apt-02",
			Code:      "LH000002",
			Date:      "2026-09-15",
			StartTime: "13:00",
			EndTime:   "15:00",
			Status:    domain.AppointmentStatusPending,
			Services: []domain.AppointmentService{
				// Sub-window narrower than the appointment itself.
				{ProductID: "svc-massage-01", TechnicianID: "tech-02", StartTime: "13:00", EndTime: "14:00"},
				{ProductID: "svc-nail-01", TechnicianID: "tech-03", StartTime: "14:00", EndTime: "15:00"},
			},
		},
		{
			ID:        "apt-03",
			Code:      "LH000003",
			Date:      "2026-09-15",
			StartTime: "09:00",
			EndTime:   "10:00",
			Status:    domain.AppointmentStatusCancelled,
			Services: []domain.AppointmentService{
				{ProductID: "svc-facial-01", TechnicianID: "tech-04"},
			},
		},
	}
}

func TestFindConflictOverlap(t *testing.T) {
	day := dayFixture()

	conflict := FindConflict(day, "tech-01", "2026-09-15", 600, 60, "")
	if conflict == nil {
		t.Fatal("expected overlap at 10:00 against 09:00-10:30 booking")
	}
	if conflict.AppointmentID != "apt-01" || conflict.EndTime != "10:30" {
		t.Fatalf("conflict = %+v", conflict)
	}
}

func TestFindConflictHalfOpenWindows(t *testing.T) {
	day := dayFixture()

	// Booking that starts exactly when the existing one ends is allowed.
	if c := FindConflict(day, "tech-01", "2026-09-15", 630, 30, ""); c != nil {
		t.Fatalf("back-to-back booking flagged: %+v", c)
	}
	// Booking that ends exactly when the existing one starts is allowed.
	if c := FindConflict(day, "tech-01", "2026-09-15", 480, 60, ""); c != nil {
		t.Fatalf("booking ending at start flagged: %+v", c)
	}
}

func TestFindConflictUsesServiceSubWindows(t *testing.T) {
	day := dayFixture()

	// tech-02 is only booked 13:00-14:00 even though the appointment runs
	// until 15:00.
	if c := FindConflict(day, "tech-02", "2026-09-15", 840, 60, ""); c != nil {
		t.Fatalf("tech-02 free after sub-window end, got %+v", c)
	}
	if c := FindConflict(day, "tech-02", "2026-09-15", 810, 30, ""); c == nil {
		t.Fatal("tech-02 busy inside sub-window, expected conflict")
	}
	if c := FindConflict(day, "tech-03", "2026-09-15", 810, 30, ""); c != nil {
		t.Fatalf("tech-03 free before sub-window start, got %+v", c)
	}
}

func TestFindConflictSkipsCancelledAndExcluded(t *testing.T) {
	day := dayFixture()

	if c := FindConflict(day, "tech-04", "2026-09-15", 540, 60, ""); c != nil {
		t.Fatalf("cancelled booking should not conflict: %+v", c)
	}
	if c := FindConflict(day, "tech-01", "2026-09-15", 540, 60, "apt-01"); c != nil {
		t.Fatalf("excluded booking should not conflict with itself: %+v", c)
	}
	if c := FindConflict(day, "tech-01", "2026-09-16", 540, 60, ""); c != nil {
		t.Fatalf("other day should not conflict: %+v", c)
	}
}

func TestTechnicianAppointments(t *testing.T) {
	day := dayFixture()

	mine := TechnicianAppointments(day, "tech-02", "2026-09-15")
	if len(mine) != 1 || mine[0].ID != "apt-02" {
		t.Fatalf("tech-02 appointments = %+v", mine)
	}

	cancelled := TechnicianAppointments(day, "tech-04", "2026-09-15")
	if len(cancelled) != 0 {
		t.Fatalf("cancelled appointment leaked: %+v", cancelled)
	}

	none := TechnicianAppointments(day, "tech-09", "2026-09-15")
	if len(none) != 0 {
		t.Fatalf("unexpected appointments: %+v", none)
	}
}
