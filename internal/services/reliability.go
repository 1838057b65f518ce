package services

import (
	"bytes"
	"encoding/csv"
	"strconv"

	"github.com/soaringjerry/moderator/internal/models"
)

// CronbachAlpha computes Cronbach's alpha over a [observations][items]
// matrix using population variance throughout, so perfectly correlated items
// give exactly 1. Ragged or degenerate input yields 0; the result is clamped
// to [0,1].
func CronbachAlpha(matrix [][]float64) float64 {
	n := len(matrix)
	if n == 0 || len(matrix[0]) < 2 {
		return 0
	}
	k := len(matrix[0])
	totals := make([]float64, n)
	var sumItemVar float64
	for j := 0; j < k; j++ {
		col := make([]float64, n)
		for i, row := range matrix {
			if len(row) != k {
				return 0
			}
			col[i] = row[j]
			totals[i] += row[j]
		}
		sumItemVar += popVariance(col)
	}
	totalVar := popVariance(totals)
	if totalVar == 0 {
		return 0
	}
	kf := float64(k)
	alpha := kf / (kf - 1) * (1 - sumItemVar/totalVar)
	return min(max(alpha, 0), 1)
}

func popVariance(xs []float64) float64 {
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return ss / float64(len(xs))
}

// Reliability summarizes the internal consistency of the regular
// questionnaire items across committed trials.
type Reliability struct {
	Items        []string
	Observations int
	Alpha        float64
	// AlphaIfDeleted is keyed by question.
	AlphaIfDeleted map[string]float64
}

// QuestionnaireReliability builds the item matrix from trials that answered
// every regular question with a scorable option. Reverse scoring is applied
// before the alpha is computed; the sanity question never counts.
func QuestionnaireReliability(rows []TrialRow, q models.Questionnaire) Reliability {
	items := make([]string, 0, len(q.Questions))
	for _, question := range q.Questions {
		if question != q.SanityQuestion {
			items = append(items, question)
		}
	}
	rel := Reliability{Items: items, AlphaIfDeleted: make(map[string]float64, len(items))}
	matrix := make([][]float64, 0, len(rows))
next:
	for _, r := range rows {
		obs := make([]float64, len(items))
		for j, question := range items {
			v, ok := QuestionScore(q, question, r.Responses[question])
			if !ok {
				continue next
			}
			obs[j] = float64(v)
		}
		matrix = append(matrix, obs)
	}
	rel.Observations = len(matrix)
	rel.Alpha = CronbachAlpha(matrix)
	for j, question := range items {
		reduced := make([][]float64, len(matrix))
		for i, obs := range matrix {
			reduced[i] = append(append([]float64{}, obs[:j]...), obs[j+1:]...)
		}
		rel.AlphaIfDeleted[question] = CronbachAlpha(reduced)
	}
	return rel
}

// ExportReliabilityCSV writes one overall row followed by one
// alpha-if-deleted row per item.
func ExportReliabilityCSV(rows []TrialRow, q models.Questionnaire) ([]byte, error) {
	rel := QuestionnaireReliability(rows, q)
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	_ = w.Write([]string{"scope", "items", "observations", "alpha"})
	_ = w.Write([]string{"all", strconv.Itoa(len(rel.Items)), strconv.Itoa(rel.Observations), ftoa(rel.Alpha)})
	for _, question := range rel.Items {
		if err := w.Write([]string{
			"without: " + question,
			strconv.Itoa(len(rel.Items) - 1),
			strconv.Itoa(rel.Observations),
			ftoa(rel.AlphaIfDeleted[question]),
		}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}
