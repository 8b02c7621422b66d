// Package watch polls HTTP endpoints with [poll.Controller] and serves
// their state as a dashboard, a JSON API and an SSE stream.
//
// A [Target] describes one endpoint: its URL, how to judge the response
// ([StatusExtractor]) and when to stop polling ([WithStopWhen]). A
// [Runner] drives one controller per target:
//
//	deploy, err := watch.NewTarget("deploy", "https://ci.example.com/deploys/42",
//	    watch.WithExtractor(watch.JSONFieldExtractor("state")),
//	    watch.WithStopWhen(watch.StatusUp, watch.StatusDown),
//	)
//	if err != nil {
//	    return err
//	}
//	r, err := watch.New(watch.WithTargets(deploy), watch.WithPort(8080))
//	if err != nil {
//	    return err
//	}
//	return r.Start(ctx)
//
// Targets can also be used without a Runner through [Target.Controller].
package watch
