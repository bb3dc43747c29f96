// Package cron provides a readable stream of ticks following a cron schedule.
//
// Expressions use five fields, an optional leading seconds field, or a
// descriptor:
//
//	"0 */2 * * *"      every 2 hours
//	"*/15 * * * * *"   every 15 seconds
//	"@daily"           every day at midnight
//	"@every 1m30s"     every 90 seconds
//
// # Usage
//
//	ticks, err := cron.New("@every 10s")
//	if err != nil {
//		return err
//	}
//	err = stream.ForEach(ctx, ticks, func(t cron.Tick) {
//		log.Printf("tick %d at %s", t.Seq, t.Time)
//	})
//
// The next activation is only awaited while a read is pending, so a slow
// consumer skips activations instead of receiving a burst of stale ticks.
// Raise HighWaterMark to compute ticks ahead of the reader.
//
// Cancelling the stream stops the schedule. MaxTicks closes it after a fixed
// number of ticks.
package cron
