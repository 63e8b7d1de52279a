// Package automation provides the daily schedule engine for Domotic Core.
//
// A Schedule is a time-of-day window for one outlet or for all of them.
// When the clock reaches the window's start minute the configured action
// (On or Off) is sent; at the end minute the outlets are switched off.
//
// Architecture:
//
//	┌──────────────────────────────────────────────────────┐
//	│              Evaluator (evaluator.go)                 │
//	│  Ticks at second zero of every minute                 │
//	│  ┌──────────────┐    ┌──────────────┐                │
//	│  │    Store     │───▶│  Repository  │                │
//	│  │  (store.go)  │    │(repository.go)│               │
//	│  └──────────────┘    └──────────────┘                │
//	│        │                                              │
//	│        ▼                                              │
//	│  ┌──────────────────────────────────────────────┐    │
//	│  │  Per tick, per schedule in order              │    │
//	│  │  1. Skip disabled or invalid schedules        │    │
//	│  │  2. Start minute: send action, set flag       │    │
//	│  │  3. End minute: send Off, clear flag          │    │
//	│  │  4. Emit schedule.fired / schedule.ended      │    │
//	│  └──────────────────────────────────────────────┘    │
//	└──────────────────────────────────────────────────────┘
//
// # Runtime flags
//
// The evaluator keeps one flag per (schedule, device) meaning "start
// applied, end due". Flags are not persisted. At start-up Resume sets the
// flags of every window that is already open so its end still switches
// the outlets off.
//
// # Thread Safety
//
// Store and Evaluator are safe for concurrent use from multiple goroutines.
//
// # Usage
//
//	repo := automation.NewKVRepository(kv)
//	store := automation.NewStore(repo, catalog)
//	if err := store.Load(ctx); err != nil {
//	    return err
//	}
//
//	eval := automation.NewEvaluator(store, catalog, commander, bus,
//	    automation.WithLocation(loc))
//	if err := eval.Start(ctx); err != nil {
//	    return err
//	}
//	defer eval.Stop()
package automation
