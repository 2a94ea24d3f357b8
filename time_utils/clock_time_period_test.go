package timeutils

import (
	"testing"
	"time"
)

func TestClockTimeAbsolutePeriod(t *testing.T) {
	london, err := time.LoadLocation("Europe/London")
	if err != nil {
		t.Fatalf("Failed to load London time: %v", err)
	}

	fourToSevenPm := NewClockTimePeriod(16, 19, london)
	elevenPmToSixAm := NewClockTimePeriod(23, 6, london)
	elevenPmToMidnight := NewClockTimePeriod(23, 24, time.UTC)

	fourToSevenPmAbsolute := Period{
		Start: time.Date(2023, 8, 22, 16, 0, 0, 0, london),
		End:   time.Date(2023, 8, 22, 19, 0, 0, 0, london),
	}
	overnightIntoTheTwentySecond := Period{
		Start: time.Date(2023, 8, 21, 23, 0, 0, 0, london),
		End:   time.Date(2023, 8, 22, 6, 0, 0, 0, london),
	}
	overnightFromTheTwentySecond := Period{
		Start: time.Date(2023, 8, 22, 23, 0, 0, 0, london),
		End:   time.Date(2023, 8, 23, 6, 0, 0, 0, london),
	}
	lastHourOfNewYear := Period{
		Start: time.Date(2023, 12, 31, 23, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	type subTest struct {
		name           string
		ctPeriod       ClockTimePeriod
		t              time.Time
		expectedPeriod Period
		expectedOK     bool
	}

	subTests := []subTest{
		{"OutsideBefore", fourToSevenPm, time.Date(2023, 8, 22, 15, 59, 59, 0, london), Period{}, false},
		{"OutsideAfter", fourToSevenPm, time.Date(2023, 8, 22, 19, 30, 0, 0, london), Period{}, false},
		{"ContainsOnStartBoundary", fourToSevenPm, time.Date(2023, 8, 22, 16, 0, 0, 0, london), fourToSevenPmAbsolute, true},
		{"ExcludesEndBoundary", fourToSevenPm, time.Date(2023, 8, 22, 19, 0, 0, 0, london), Period{}, false},
		{"ContainsInside", fourToSevenPm, time.Date(2023, 8, 22, 17, 30, 0, 0, london), fourToSevenPmAbsolute, true},
		{"UTC input, BST period", fourToSevenPm, time.Date(2023, 8, 22, 15, 30, 0, 0, time.UTC), fourToSevenPmAbsolute, true},

		{"Overnight, after midnight", elevenPmToSixAm, time.Date(2023, 8, 22, 2, 0, 0, 0, london), overnightIntoTheTwentySecond, true},
		{"Overnight, before midnight", elevenPmToSixAm, time.Date(2023, 8, 22, 23, 15, 0, 0, london), overnightFromTheTwentySecond, true},
		{"Overnight, on start boundary", elevenPmToSixAm, time.Date(2023, 8, 22, 23, 0, 0, 0, london), overnightFromTheTwentySecond, true},
		{"Overnight, on end boundary", elevenPmToSixAm, time.Date(2023, 8, 22, 6, 0, 0, 0, london), Period{}, false},
		{"Overnight, midday", elevenPmToSixAm, time.Date(2023, 8, 22, 12, 0, 0, 0, london), Period{}, false},

		{"Ends at midnight, inside", elevenPmToMidnight, time.Date(2023, 12, 31, 23, 59, 59, 0, time.UTC), lastHourOfNewYear, true},
		{"Ends at midnight, on midnight", elevenPmToMidnight, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Period{}, false},
	}
	for _, subTest := range subTests {
		t.Run(subTest.name, func(t *testing.T) {
			period, ok := subTest.ctPeriod.AbsolutePeriod(subTest.t)
			if ok != subTest.expectedOK {
				t.Errorf("OK boolean got %t, expected %t", ok, subTest.expectedOK)
			}
			if ok && !period.Equal(subTest.expectedPeriod) {
				t.Errorf("Period got %v, expected %v", period, subTest.expectedPeriod)
			}
		})
	}
}

func TestClockTimePeriodValidate(t *testing.T) {
	london, err := time.LoadLocation("Europe/London")
	if err != nil {
		t.Fatalf("Failed to load London time: %v", err)
	}

	type subTest struct {
		name      string
		ctPeriod  ClockTimePeriod
		expectErr bool
	}

	subTests := []subTest{
		{"Valid", NewClockTimePeriod(6, 9, london), false},
		{"Valid, nil location", NewClockTimePeriod(6, 9, nil), false},
		{"Valid, end of day", NewClockTimePeriod(23, 24, nil), false},
		{"Hour out of range", NewClockTimePeriod(6, 25, nil), true},
		{"Past end of day", ClockTimePeriod{Start: ClockTime{Hour: 23}, End: ClockTime{Hour: 24, Minute: 1}}, true},
		{"Mixed locations", ClockTimePeriod{Start: ClockTime{Hour: 1, Location: london}, End: ClockTime{Hour: 2}}, true},
	}
	for _, subTest := range subTests {
		t.Run(subTest.name, func(t *testing.T) {
			err := subTest.ctPeriod.Validate()
			if (err != nil) != subTest.expectErr {
				t.Errorf("Got error %v, expected error: %t", err, subTest.expectErr)
			}
		})
	}
}
