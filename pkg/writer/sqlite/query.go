package sqlite

import (
	"database/sql"
	"fmt"
)

// Scope is the final values of one experiment, or of the merged experiments
type Scope struct {
	RunID      string
	Experiment string
	Dataset    string
	Level      string
	Merge      bool
	Variance   float64
	Keys       []string
	X          []float64
	Weights    []float64
}

// LatestRun returns the most recently created run of the database
func LatestRun(db *sql.DB) (string, error) {
	var id string
	err := db.QueryRow(`SELECT RunId FROM RunTable ORDER BY CreationDate DESC, rowid DESC LIMIT 1`).Scan(&id)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("database holds no run")
	}
	if err != nil {
		return "", fmt.Errorf("failed to query runs: %w", err)
	}
	return id, nil
}

// ReadFinal returns the final scopes of a run; an empty runID selects the latest run
func ReadFinal(path, runID string) ([]Scope, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if runID == "" {
		if runID, err = LatestRun(db); err != nil {
			return nil, err
		}
	}

	rows, err := db.Query(`
		SELECT StepId, Experiment, Dataset, Level, IsMerge, Variance
		FROM StepTable WHERE RunId = ? AND IsFinal ORDER BY StepId
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}

	var (
		scopes []Scope
		ids    []int64
	)
	for rows.Next() {
		var (
			id int64
			s  = Scope{RunID: runID}
		)
		if err := rows.Scan(&id, &s.Experiment, &s.Dataset, &s.Level, &s.Merge, &s.Variance); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to read step: %w", err)
		}
		scopes = append(scopes, s)
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read steps: %w", err)
	}

	for i, id := range ids {
		if err := readValues(db, id, &scopes[i]); err != nil {
			return nil, err
		}
	}
	return scopes, nil
}

func readValues(db *sql.DB, stepID int64, s *Scope) error {
	rows, err := db.Query(`SELECT Identifier, X, Weight FROM ValueTable WHERE StepId = ? ORDER BY rowid`, stepID)
	if err != nil {
		return fmt.Errorf("failed to query values: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			key  string
			x, w float64
		)
		if err := rows.Scan(&key, &x, &w); err != nil {
			return fmt.Errorf("failed to read value: %w", err)
		}
		s.Keys = append(s.Keys, key)
		s.X = append(s.X, x)
		s.Weights = append(s.Weights, w)
	}
	return rows.Err()
}
