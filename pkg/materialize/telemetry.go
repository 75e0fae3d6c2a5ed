package materialize

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/3leaps/gosweep/pkg/campaign"
)

// Telemetry sidecar environment variables.
const (
	EnvCmdPort        = "SOS_CMD_PORT"
	EnvMeetup         = "SOS_EVPATH_MEETUP"
	EnvTauSOS         = "TAU_SOS"
	EnvLibraryPath    = "LD_LIBRARY_PATH"
	EnvRanksPerNode   = "SOS_APP_RANKS_PER_NODE"
	EnvListenerOffset = "SOS_LISTENER_RANK_OFFSET"
)

// DefaultTelemetryPort is the sidecar listener port.
const DefaultTelemetryPort = 22500

// Telemetry configures the telemetry sidecar wiring of invocations.
type Telemetry struct {
	Enabled bool
	Port    int

	// LibraryPaths maps a machine-name pattern (case-insensitive regular
	// expression) to a directory appended to LD_LIBRARY_PATH on matching
	// machines.
	LibraryPaths map[string]string
}

type libraryPath struct {
	re   *regexp.Regexp
	path string
}

// compile validates the telemetry settings and resolves the library path
// override for machine. It returns "" when no pattern matches.
func (t Telemetry) compile(machine campaign.Machine) (string, error) {
	if !t.Enabled {
		return "", nil
	}
	if machine.ProcessesPerNode < 1 {
		return "", fmt.Errorf("telemetry requires machine processes_per_node >= 1, got %d", machine.ProcessesPerNode)
	}

	patterns := make([]string, 0, len(t.LibraryPaths))
	for p := range t.LibraryPaths {
		patterns = append(patterns, p)
	}
	sort.Strings(patterns)

	compiled := make([]libraryPath, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return "", fmt.Errorf("telemetry library path pattern %q: %w", p, err)
		}
		compiled = append(compiled, libraryPath{re: re, path: t.LibraryPaths[p]})
	}
	for _, lp := range compiled {
		if lp.re.MatchString(machine.Name) {
			return lp.path, nil
		}
	}
	return "", nil
}

// ListenerOffsets returns the sidecar listener rank offset of every
// invocation: the number of nodes occupied by all invocations declared
// before it, assuming each fills whole nodes of ppn processes.
func ListenerOffsets(codes []campaign.Invocation, ppn int) []int {
	offsets := make([]int, len(codes))
	if ppn < 1 {
		return offsets
	}
	node := 0
	for i, c := range codes {
		offsets[i] = node
		node += (c.NProcs + ppn - 1) / ppn
	}
	return offsets
}

// addTelemetryEnv adds the sidecar wiring to env. Port, flag and rank
// counts are numbers in the descriptor.
func addTelemetryEnv(env map[string]any, t Telemetry, runPath, libPath string, ppn, offset int) {
	port := t.Port
	if port == 0 {
		port = DefaultTelemetryPort
	}
	env[EnvCmdPort] = port
	env[EnvMeetup] = runPath
	env[EnvTauSOS] = 1
	if libPath != "" {
		env[EnvLibraryPath] = "${LD_LIBRARY_PATH}:" + libPath
	}
	env[EnvRanksPerNode] = ppn
	env[EnvListenerOffset] = offset
}
