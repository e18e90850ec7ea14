package noisegate

// RequiredStreak is the number of consecutive speech samples that assert speech.
const RequiredStreak = 2

// Debouncer suppresses single-sample spikes.
type Debouncer struct {
	streak int
}

// Observe records one classification and reports whether significant speech is asserted.
func (d *Debouncer) Observe(class Class) bool {
	if class != Speech {
		d.streak = 0
		return false
	}
	d.streak++
	return d.streak >= RequiredStreak
}

// Streak returns the current count of consecutive speech samples.
func (d *Debouncer) Streak() int {
	return d.streak
}

// Reset clears the streak.
func (d *Debouncer) Reset() {
	d.streak = 0
}
