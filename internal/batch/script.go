package batch

import (
	"fmt"
	"strings"
)

// Resources is the scheduler resource request of one submission unit.
type Resources struct {
	Partition string
	CPUs      int
	Memory    string
	Time      string
	GPUs      int
	DependsOn string // scheduler job ID this unit waits for, optional
}

// DefaultResources are used when a field is left unset.
var DefaultResources = Resources{
	Partition: "default",
	CPUs:      4,
	Memory:    "4g",
	Time:      "01:00:00",
}

func (r Resources) withDefaults() Resources {
	if r.Partition == "" {
		r.Partition = DefaultResources.Partition
	}
	if r.CPUs == 0 {
		r.CPUs = DefaultResources.CPUs
	}
	if r.Memory == "" {
		r.Memory = DefaultResources.Memory
	}
	if r.Time == "" {
		r.Time = DefaultResources.Time
	}
	return r
}

// SubmissionScript renders one sbatch unit. The script runs the command
// under srun and, on completion, relocates the scheduler's own log into the
// job's output directory so every artifact of the job ends up in the
// identity's subtree.
func SubmissionScript(handle, command, outputDir string, res Resources) string {
	res = res.withDefaults()

	var sb strings.Builder
	sb.WriteString("#!/bin/env bash\n")
	fmt.Fprintf(&sb, "#SBATCH --job-name gapipe-%s\n", handle)
	fmt.Fprintf(&sb, "#SBATCH --partition %s\n", res.Partition)
	fmt.Fprintf(&sb, "#SBATCH --cpus-per-task %d\n", res.CPUs)
	fmt.Fprintf(&sb, "#SBATCH --mem %s\n", res.Memory)
	fmt.Fprintf(&sb, "#SBATCH --time %s\n", res.Time)
	if res.GPUs > 0 {
		fmt.Fprintf(&sb, "#SBATCH --gpus %d\n", res.GPUs)
	}
	if res.DependsOn != "" {
		fmt.Fprintf(&sb, "#SBATCH --dependency afterok:%s\n", res.DependsOn)
	}
	sb.WriteString("\nset -e\n\n")
	fmt.Fprintf(&sb, "out=slurm-$SLURM_JOB_ID.out\n")
	fmt.Fprintf(&sb, "srun %s\n", command)
	fmt.Fprintf(&sb, "mkdir -p %s\n", outputDir)
	fmt.Fprintf(&sb, "mv $out %s/slurm.out\n", outputDir)
	return sb.String()
}
