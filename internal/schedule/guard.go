package schedule

import (
	"fmt"
	"strconv"
	"strings"

	"salepa/backend/internal/domain"
)

// ParseClock converts an "HH:MM" wall-clock string to minutes since
// midnight.
func ParseClock(value string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(value), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock value %q", value)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid hour in %q", value)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid minute in %q", value)
	}
	return hour*60 + minute, nil
}

// FormatClock renders minutes since midnight back to "HH:MM".
func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// FindConflict scans a day's appointments for an existing, non-cancelled
// booking that overlaps the candidate window [startMin, startMin+duration)
// for the given technician. Windows are half-open, so a booking ending at
// 10:30 does not conflict with one starting at 10:30. Appointments are
// matched on their service lines: a line with its own sub-window is tested
// against that sub-window, otherwise against the appointment's window. The
// appointment identified by excludeID is skipped, which lets a reschedule
// re-check its own slot.
func FindConflict(appointments []domain.Appointment, technicianID string, date string, startMin int, durationMin int, excludeID string) *domain.ScheduleConflict {
	newStart := startMin
	newEnd := startMin + durationMin

	for _, apt := range appointments {
		if apt.ID == excludeID {
			continue
		}
		if apt.Date != date || apt.Status == domain.AppointmentStatusCancelled {
			continue
		}

		for _, svc := range apt.Services {
			if svc.TechnicianID != technicianID {
				continue
			}

			startClock, endClock := svc.StartTime, svc.EndTime
			if startClock == "" || endClock == "" {
				startClock, endClock = apt.StartTime, apt.EndTime
			}

			aptStart, err := ParseClock(startClock)
			if err != nil {
				continue
			}
			aptEnd, err := ParseClock(endClock)
			if err != nil {
				continue
			}

			if newStart < aptEnd && newEnd > aptStart {
				return &domain.ScheduleConflict{
					AppointmentID: apt.ID,
					Code:          apt.Code,
					StartTime:     FormatClock(aptStart),
					EndTime:       FormatClock(aptEnd),
				}
			}
		}
	}

	return nil
}

// TechnicianAppointments filters a day's appointments down to the
// non-cancelled ones with at least one service assigned to the technician.
func TechnicianAppointments(appointments []domain.Appointment, technicianID string, date string) []domain.Appointment {
	result := make([]domain.Appointment, 0, len(appointments))
	for _, apt := range appointments {
		if apt.Date != date || apt.Status == domain.AppointmentStatusCancelled {
			continue
		}
		for _, svc := range apt.Services {
			if svc.TechnicianID == technicianID {
				result = append(result, apt)
				break
			}
		}
	}
	return result
}
