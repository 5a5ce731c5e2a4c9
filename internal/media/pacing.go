package media

import "time"

const datarateWindow = 5 * time.Second

// datarate is a two sample rate estimator. Sample 1 is moved forward once
// sample 2 is older than the window.
type datarate struct {
	time1, time2   time.Time
	count1, count2 int64
}

func (d *datarate) update(now time.Time, count int64) {
	if d.time1.IsZero() {
		d.time1, d.time2 = now, now
		d.count1, d.count2 = count, count
		return
	}
	if now.Sub(d.time2) > datarateWindow {
		d.time1, d.count1 = d.time2, d.count2
		d.time2, d.count2 = now, count
	}
}

// bytesPerSecond estimates the current rate.
func (d *datarate) bytesPerSecond(now time.Time, count int64) int64 {
	elapsed := now.Sub(d.time1).Milliseconds()
	if d.time1.IsZero() || elapsed <= 0 {
		return 0
	}
	return (count - d.count1) * 1000 / elapsed
}

// serverClock is the time since the connection started sending, in µs.
func serverClock(now, start time.Time) int64 {
	return now.Sub(start).Microseconds()
}

// packetSendClock is the due time (µs, relative to the pts origin) of the
// next byte of the current frame. A frame split into several packets spreads
// them evenly over its duration.
func packetSendClock(curPTS, frameDuration int64, frameBytes, bytesLeft int) int64 {
	if frameBytes <= 0 {
		return curPTS
	}
	return curPTS + frameDuration*int64(frameBytes-bytesLeft)/int64(frameBytes)
}
