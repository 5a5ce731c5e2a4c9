package media

// Admission enforces the global connection and bandwidth ceilings.
// Zero ceilings mean unlimited. Only the event loop touches it.
type Admission struct {
	maxConnections int
	maxBandwidth   int // kbit/s

	connections int
	bandwidth   int
}

func NewAdmission(maxConnections, maxBandwidth int) *Admission {
	return &Admission{
		maxConnections: maxConnections,
		maxBandwidth:   maxBandwidth,
	}
}

// TryConnection reserves a connection slot.
func (a *Admission) TryConnection() bool {
	if a.maxConnections > 0 && a.connections >= a.maxConnections {
		return false
	}
	a.connections++
	return true
}

func (a *Admission) ReleaseConnection() {
	if a.connections > 0 {
		a.connections--
	}
}

// TryBandwidth charges kbps unless the aggregate would exceed the ceiling.
// A refused request charges nothing.
func (a *Admission) TryBandwidth(kbps int) bool {
	if a.maxBandwidth > 0 && a.bandwidth+kbps > a.maxBandwidth {
		return false
	}
	a.bandwidth += kbps
	return true
}

func (a *Admission) ReleaseBandwidth(kbps int) {
	a.bandwidth -= kbps
	if a.bandwidth < 0 {
		a.bandwidth = 0
	}
}

func (a *Admission) Connections() int    { return a.connections }
func (a *Admission) Bandwidth() int      { return a.bandwidth }
func (a *Admission) MaxConnections() int { return a.maxConnections }
func (a *Admission) MaxBandwidth() int   { return a.maxBandwidth }
