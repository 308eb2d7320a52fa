// SPDX-License-Identifier: Apache-2.0

package main

import (
	"flag"
	"fmt"

	"helmsman/pkg/eventlog"
)

func runReplay(args []string) {
	cmd := flag.NewFlagSet("replay", flag.ExitOnError)
	journalPath := cmd.String("journal", "", "Path to JSONL event journal")
	if err := cmd.Parse(args); err != nil {
		fatal(err)
	}
	if *journalPath == "" {
		fatal(fmt.Errorf("-journal is required"))
	}

	events, err := eventlog.LoadJournal(*journalPath)
	if err != nil {
		fatal(err)
	}

	state := eventlog.DeriveState(events)
	fmt.Printf("events: %d\ninvocations: %d\nsuccesses: %d\nfailures: %d\nrejections: %d\n",
		len(events), state.Invocations, state.Successes, state.Failures, state.Rejections)
	if !state.LastActivity.IsZero() {
		fmt.Println("last activity:", state.LastActivity.Format("2006-01-02T15:04:05Z07:00"))
	}
	for target, seq := range state.LastTouched {
		fmt.Printf("touched %s (seq %d)\n", target, seq)
	}
	for _, e := range state.Errors {
		fmt.Println("error:", e)
	}
}
