package edfparser

import (
	"fmt"
)

// ChartData represents the structure for Chart.js
type ChartData struct {
	Labels   []string  `json:"labels"`   // X-axis data, seconds from the window start
	Datasets []Dataset `json:"datasets"` // Array of signal datasets
}

// Dataset represents a single signal in the Chart.js dataset
type Dataset struct {
	Label       string    `json:"label"`
	Data        []float64 `json:"data"`
	BorderColor string    `json:"borderColor"`
	Fill        bool      `json:"fill"`
}

// Trace is one named series of samples taken at a common sample rate.
type Trace struct {
	Label   string
	Samples []float64
}

var chartColors = []string{
	"rgb(31, 119, 180)",
	"rgb(255, 127, 14)",
	"rgb(44, 160, 44)",
	"rgb(214, 39, 40)",
	"rgb(148, 103, 189)",
}

// ProcessTracesToChartData lays traces out as Chart.js line datasets. The
// x-axis covers the longest trace; shorter traces are simply shorter arrays.
func ProcessTracesToChartData(sampleRate float64, traces []Trace) (ChartData, error) {
	if sampleRate <= 0 {
		return ChartData{}, fmt.Errorf("invalid sample rate %v", sampleRate)
	}
	longest := 0
	for _, t := range traces {
		if len(t.Samples) > longest {
			longest = len(t.Samples)
		}
	}

	labels := make([]string, longest)
	for i := range labels {
		labels[i] = fmt.Sprintf("%.3f", float64(i)/sampleRate)
	}

	datasets := make([]Dataset, len(traces))
	for i, t := range traces {
		datasets[i] = Dataset{
			Label:       t.Label,
			BorderColor: chartColors[i%len(chartColors)],
			Fill:        false,
			Data:        append([]float64(nil), t.Samples...),
		}
	}

	return ChartData{
		Labels:   labels,
		Datasets: datasets,
	}, nil
}
