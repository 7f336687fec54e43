package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Schedule lists the batch jobs the scheduler command runs and how often.
//
//	jobs:
//	  - name: invoices-post
//	    interval: 5m
//	  - name: statements-generate
//	    interval: 24h
//	    enabled: false
type Schedule struct {
	Jobs []JobSchedule `yaml:"jobs"`
}

type JobSchedule struct {
	Name     string        `yaml:"name"`
	Interval time.Duration `yaml:"-"`
	Enabled  bool          `yaml:"-"`
}

type rawJobSchedule struct {
	Name     string `yaml:"name"`
	Interval string `yaml:"interval"`
	Enabled  *bool  `yaml:"enabled"`
}

func (j *JobSchedule) UnmarshalYAML(node *yaml.Node) error {
	var raw rawJobSchedule
	if err := node.Decode(&raw); err != nil {
		return err
	}
	j.Name = strings.TrimSpace(raw.Name)
	if j.Name == "" {
		return fmt.Errorf("line %d: job name is required", node.Line)
	}
	interval, err := time.ParseDuration(strings.TrimSpace(raw.Interval))
	if err != nil || interval <= 0 {
		return fmt.Errorf("line %d: job %s has invalid interval %q", node.Line, j.Name, raw.Interval)
	}
	j.Interval = interval
	j.Enabled = raw.Enabled == nil || *raw.Enabled
	return nil
}

func LoadSchedule(path string) (*Schedule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSchedule(data)
}

func ParseSchedule(data []byte) (*Schedule, error) {
	var schedule Schedule
	if err := yaml.Unmarshal(data, &schedule); err != nil {
		return nil, err
	}
	if len(schedule.Jobs) == 0 {
		return nil, errors.New("schedule has no jobs")
	}
	seen := make(map[string]bool, len(schedule.Jobs))
	for _, job := range schedule.Jobs {
		if seen[job.Name] {
			return nil, fmt.Errorf("job %s is scheduled twice", job.Name)
		}
		seen[job.Name] = true
	}
	return &schedule, nil
}

func (s *Schedule) Enabled() []JobSchedule {
	out := make([]JobSchedule, 0, len(s.Jobs))
	for _, job := range s.Jobs {
		if job.Enabled {
			out = append(out, job)
		}
	}
	return out
}
