package build

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// LayerEvent is one completed build layer parsed from plain progress output.
type LayerEvent struct {
	Stage       string        `json:"stage,omitempty" yaml:"stage,omitempty"`
	Step        string        `json:"step,omitempty" yaml:"step,omitempty"` // "2/7"
	Instruction string        `json:"instruction" yaml:"instruction"`
	Detail      string        `json:"detail,omitempty" yaml:"detail,omitempty"`
	Cached      bool          `json:"cached,omitempty" yaml:"cached,omitempty"`
	Duration    time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`
}

var (
	// #N [stage M/N] INSTRUCTION args...
	layerStartRe = regexp.MustCompile(`^#(\d+) \[([^\]]*?) ?(\d+/\d+)\] (\w+)\s*(.*)`)
	// #N CACHED
	layerCachedRe = regexp.MustCompile(`^#(\d+) CACHED`)
	// #N DONE 44.8s
	layerDoneRe = regexp.MustCompile(`^#(\d+) DONE (\d+\.?\d*)s`)
)

const maxLayerDetail = 60

// ParseLayers extracts finished Dockerfile layers from `--progress=plain`
// output, in step order. Internal and export steps are not reported.
func ParseLayers(output string) []LayerEvent {
	type state struct {
		ev   LayerEvent
		done bool
	}
	layers := map[int]*state{}

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)

		if m := layerStartRe.FindStringSubmatch(line); m != nil {
			if m[2] == "internal" {
				continue
			}
			n, _ := strconv.Atoi(m[1])
			detail := m[5]
			if len(detail) > maxLayerDetail {
				detail = detail[:maxLayerDetail-3] + "..."
			}
			layers[n] = &state{ev: LayerEvent{
				Stage:       strings.TrimSpace(m[2]),
				Step:        m[3],
				Instruction: strings.ToUpper(m[4]),
				Detail:      detail,
			}}
			continue
		}

		if m := layerCachedRe.FindStringSubmatch(line); m != nil {
			n, _ := strconv.Atoi(m[1])
			if ls, ok := layers[n]; ok {
				ls.ev.Cached = true
				ls.done = true
			}
			continue
		}

		if m := layerDoneRe.FindStringSubmatch(line); m != nil {
			n, _ := strconv.Atoi(m[1])
			if ls, ok := layers[n]; ok {
				secs, _ := strconv.ParseFloat(m[2], 64)
				ls.ev.Duration = time.Duration(secs * float64(time.Second))
				ls.done = true
			}
		}
	}

	steps := make([]int, 0, len(layers))
	for n, ls := range layers {
		if ls.done {
			steps = append(steps, n)
		}
	}
	sort.Ints(steps)

	events := make([]LayerEvent, 0, len(steps))
	for _, n := range steps {
		events = append(events, layers[n].ev)
	}
	return events
}
