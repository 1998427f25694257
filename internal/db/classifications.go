package db

import (
	"context"
	"encoding/json"
	"fmt"
)

// Classification is one live prediction.
type Classification struct {
	ID             int64     `json:"id"`
	TakenUnixNanos int64     `json:"taken_unix_nanos"`
	Label          string    `json:"label"`
	Confidence     float64   `json:"confidence"`
	Probabilities  []float64 `json:"probabilities"`
	Sensors        []string  `json:"sensors"`
	Timesteps      int       `json:"timesteps"`
	ModelDir       string    `json:"model_dir,omitempty"`
}

// RecordClassification stores c and sets its ID. A zero timestamp is
// replaced with the current time.
func (s *RunStore) RecordClassification(ctx context.Context, c *Classification) error {
	if c.TakenUnixNanos == 0 {
		c.TakenUnixNanos = s.clock.Now().UnixNano()
	}
	probs, err := json.Marshal(c.Probabilities)
	if err != nil {
		return fmt.Errorf("encode probabilities: %w", err)
	}
	sensors, err := json.Marshal(c.Sensors)
	if err != nil {
		return fmt.Errorf("encode sensors: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO classifications (
			taken_unix_nanos, label, confidence, probabilities_json,
			sensors_json, timesteps, model_dir
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.TakenUnixNanos, c.Label, c.Confidence, string(probs),
		string(sensors), c.Timesteps, c.ModelDir,
	)
	if err != nil {
		return fmt.Errorf("insert classification: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert classification: %w", err)
	}
	c.ID = id
	return nil
}

// RecentClassifications returns up to limit classifications, newest first.
func (s *RunStore) RecentClassifications(ctx context.Context, limit int) ([]Classification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT classification_id, taken_unix_nanos, label, confidence,
		       probabilities_json, sensors_json, timesteps, COALESCE(model_dir, '')
		FROM classifications
		ORDER BY taken_unix_nanos DESC, classification_id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query classifications: %w", err)
	}
	defer rows.Close()

	var out []Classification
	for rows.Next() {
		var c Classification
		var probs, sensors string
		if err := rows.Scan(&c.ID, &c.TakenUnixNanos, &c.Label, &c.Confidence,
			&probs, &sensors, &c.Timesteps, &c.ModelDir); err != nil {
			return nil, fmt.Errorf("scan classification: %w", err)
		}
		if err := json.Unmarshal([]byte(probs), &c.Probabilities); err != nil {
			return nil, fmt.Errorf("decode probabilities: %w", err)
		}
		if err := json.Unmarshal([]byte(sensors), &c.Sensors); err != nil {
			return nil, fmt.Errorf("decode sensors: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
