package sqlite

import "github.com/refactorswarm/swarm/internal/storage/migrations"

// historyMigrations builds the run-history schema. Timestamps are stored as
// fixed-width UTC text.
var historyMigrations = []migrations.Migration{
	{
		Version:     1,
		Description: "runs and file results",
		Up: `
CREATE TABLE runs (
    id TEXT PRIMARY KEY,
    target_dir TEXT NOT NULL,
    started_at TEXT NOT NULL,
    finished_at TEXT NOT NULL,
    files_processed INTEGER NOT NULL DEFAULT 0,
    files_successful INTEGER NOT NULL DEFAULT 0,
    files_failed INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX idx_runs_started_at ON runs(started_at);

CREATE TABLE file_results (
    run_id TEXT NOT NULL,
    file TEXT NOT NULL,
    success INTEGER NOT NULL,
    final_phase TEXT NOT NULL,
    iterations INTEGER NOT NULL,
    error TEXT NOT NULL DEFAULT '',
    duration_ms INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (run_id, file),
    FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
);
`,
		Down: `
DROP TABLE file_results;
DROP TABLE runs;
`,
	},
	{
		Version:     2,
		Description: "file_results.max_iterations_reached",
		Up:          `ALTER TABLE file_results ADD COLUMN max_iterations_reached INTEGER NOT NULL DEFAULT 0`,
		Down:        `ALTER TABLE file_results DROP COLUMN max_iterations_reached`,
	},
}
