package conversation

import (
	"iter"
	"strings"

	"funchatgo/internal/models"
)

// Collect drains a turn, returning the deltas produced before any error.
func Collect(seq iter.Seq2[models.Delta, error]) ([]models.Delta, error) {
	var out []models.Delta
	for d, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, d)
	}
	return out, nil
}

// JoinContent drains a turn and concatenates its content.
func JoinContent(seq iter.Seq2[models.Delta, error]) (string, error) {
	var b strings.Builder
	for d, err := range seq {
		if err != nil {
			return b.String(), err
		}
		b.WriteString(d.Content)
	}
	return b.String(), nil
}
