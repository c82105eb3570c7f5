// Package harness runs scripted view-session scenarios against a real
// record store and session engine, then checks the resulting trace and
// final records.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	backend: memory            # memory (default), blob or relational
//	countdown: 10              # ticks per session, default 10
//	view_once: false           # refuse already viewed records
//	ip: "203.0.113.7"          # resolved viewer address; empty means lookup failure
//	setup:
//	  - id: abc123
//	    name: holiday.png
//	flow:
//	  - step: activate
//	    image_id: abc123
//	    env: { user_agent: "Mozilla/5.0 (iPhone...)", platform: iPhone }
//	    expect: { state: ACTIVE, focus: FOCUSED, remaining: 10, device: MOBILE }
//	  - step: tick
//	    count: 3
//	    expect: { remaining: 7 }
//	  - step: blur
//	    expect: { focus: INTERLOCKED }
//	assertions:
//	  - type: record
//	    id: abc123
//	    expect: { view_count: 1, is_viewed: true, log_count: 1 }
//	  - type: trace_count
//	    event: access
//	    count: 1
//
// Flow steps act on a named session ("main" unless the step sets session).
// activate opens the session; tick, blur, focus and close drive it.
//
// # Assertion Types
//
//   - record: checks fields of a final record (or that it does not exist)
//   - log_entry: checks one access log entry of a final record
//   - trace_count: checks how many trace events have a given type
//   - trace_order: checks that event types appear in the given order
//
// # Deterministic Testing
//
// Every run uses a testutil.DeterministicClock for log timestamps and a
// testutil.SequenceGenerator for entry ids, and advances countdowns by
// calling Tick directly instead of arming a wall-clock ticker. The same
// scenario therefore always produces a byte-identical canonical trace,
// which is compared against testdata/golden/<name>.golden.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/expiry.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, e := range result.Errors {
//	        log.Println(e)
//	    }
//	}
package harness
