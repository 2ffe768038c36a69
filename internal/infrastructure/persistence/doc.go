/*
Package persistence stores agent session records durably.

# Overview

Two interchangeable backends implement the agent store's persistence
contract: a SQLite database in WAL mode for the default single-file
deployment, and a directory of gzipped JSON documents for environments
without SQLite. The factory selects one from configuration.

Records are written whole at every checkpoint and status transition;
neither backend queries inside the transcript.

# Example Usage

	store, err := persistence.New(cfg.Store.Driver, cfg.Store.Path, logger)
	if err != nil {
		return err
	}
	defer store.Close()
*/
package persistence
