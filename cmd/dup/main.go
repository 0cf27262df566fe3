/*
This command provides an executable version of the duplicating proxy.

For the list of command line options, run:

	dup -help

For details about the locations, the filters and the substitutions,
please see the documentation of the root dup package.
*/
package main

import (
	log "github.com/sirupsen/logrus"

	"github.com/zalando/dup"
	"github.com/zalando/dup/config"
)

func main() {
	cfg := config.NewConfig()
	if err := cfg.Parse(); err != nil {
		log.Fatalf("Error processing config: %s", err)
	}

	if err := dup.Run(cfg.ToOptions()); err != nil {
		log.Fatal(err)
	}
}
