// Package poll provides a periodic-refresh controller.
//
// A [Controller] holds a value of any type, re-computes it on a fixed
// interval with a caller-supplied producer, and exposes the value together
// with metadata about the refresh cycle: whether a refresh is in flight and
// when the next scheduled refresh is expected. Callers can force an
// out-of-band refresh, and can suppress scheduled refreshes with a predicate
// over the current value.
//
// # Quick Start
//
//	ctrl, err := poll.New(poll.Config[Build]{
//	    InitialValue: poll.Some(build),
//	    RefreshValue: func(ctx context.Context, cur poll.Optional[Build]) (poll.Optional[Build], error) {
//	        b, err := api.GetBuild(ctx, build.ID)
//	        if err != nil {
//	            return poll.None[Build](), err
//	        }
//	        return poll.Some(b), nil
//	    },
//	    Interval: 10 * time.Second,
//	    ShouldRefreshIf: func(cur poll.Optional[Build]) bool {
//	        b, ok := cur.Get()
//	        return !ok || !b.Finished
//	    },
//	})
//	if err != nil {
//	    return err
//	}
//	ctrl.Start(ctx)
//	defer ctrl.Stop()
//
// # State Machine
//
// A controller is either idle or refreshing. Every change goes through a
// single transition function applied under a lock, so a [State] snapshot is
// always internally consistent:
//
//   - a scheduled tick starts a refresh only if ShouldRefresh is true
//   - [Controller.TriggerRefresh] starts a refresh unconditionally
//   - when the producer returns, Value, ShouldRefresh and WillRefreshAt are
//     updated together and IsRefreshing is cleared
//   - when the producer fails, Value is kept, LastError is set and
//     IsRefreshing is cleared
//
// WillRefreshAt is always the completion time of the last attempt (or the
// creation time) plus the interval plus [RefreshGrace].
//
// # Concurrency
//
// At most one producer call is outstanding per controller. Ticks that land
// during an attempt are skipped; manual triggers during an attempt join it
// and receive its result.
//
// # Observing Changes
//
// Set [Config.OnChange] to be told about every transition, or poll
// [Controller.State]. Package watch builds on this to serve state over HTTP.
package poll
