package main

import (
	"fmt"
	"io"
	"os"

	"ariga.io/atlas-provider-gorm/gormschema"

	"github.com/autocrawlerHQ/browserfleet/internal/sessions"
	"github.com/autocrawlerHQ/browserfleet/internal/workpool"
)

func main() {
	stmts, err := gormschema.New("postgres").Load(
		&workpool.WorkPool{},
		&workpool.Worker{},
		&sessions.Session{},
		&sessions.SessionEvent{},
		&sessions.SessionMetrics{},
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load gorm schema: %v\n", err)
		os.Exit(1)
	}
	io.WriteString(os.Stdout, stmts)
}
