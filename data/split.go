package data

import (
	"fmt"
	"path/filepath"
)

const (
	SplitTrain      = "train"
	SplitValidation = "validation"
	SplitTest       = "test"
)

// Split assigns subject ids to the train/validation/test partitions.
type Split struct {
	Train      []int `yaml:"train"`
	Validation []int `yaml:"validation"`
	Test       []int `yaml:"test"`
}

// Validate rejects duplicated subjects within or across partitions.
func (s Split) Validate() error {
	owner := map[int]string{}
	for _, part := range []struct {
		name     string
		subjects []int
	}{
		{SplitTrain, s.Train},
		{SplitValidation, s.Validation},
		{SplitTest, s.Test},
	} {
		for _, subj := range part.subjects {
			if prev, ok := owner[subj]; ok {
				return fmt.Errorf("subject %d assigned to both %s and %s", subj, prev, part.name)
			}
			owner[subj] = part.name
		}
	}
	if len(s.Train) == 0 {
		return fmt.Errorf("no training subjects")
	}
	return nil
}

// Of names the partition holding subject.
func (s Split) Of(subject int) (string, bool) {
	for name, subjects := range map[string][]int{
		SplitTrain:      s.Train,
		SplitValidation: s.Validation,
		SplitTest:       s.Test,
	} {
		for _, v := range subjects {
			if v == subject {
				return name, true
			}
		}
	}
	return "", false
}

// Layout locates a subject's recordings and event table under Root.
// SubjectDir and EventsFile are fmt patterns taking the subject id.
type Layout struct {
	Root       string `yaml:"root"`
	SubjectDir string `yaml:"subject_dir"`
	EventsFile string `yaml:"events_file"`
}

var DefaultLayout = Layout{
	SubjectDir: "sub-%02d",
	EventsFile: "sub-%02d_events.json",
}

func (l Layout) RecordingDir(subject int) string {
	return filepath.Join(l.Root, fmt.Sprintf(l.SubjectDir, subject))
}

func (l Layout) EventsPath(subject int) string {
	return filepath.Join(l.RecordingDir(subject), fmt.Sprintf(l.EventsFile, subject))
}

// BuildSplit extracts the pairs of every listed subject, in list order.
// done, when non-nil, is called after each subject.
func BuildSplit(layout Layout, subjects []int, opts ExtractOptions, done func(subject, pairs int)) ([]WindowPair, error) {
	var all []WindowPair
	for _, subj := range subjects {
		events, err := LoadEvents(layout.EventsPath(subj))
		if err != nil {
			return nil, fmt.Errorf("subject %d: %w", subj, err)
		}
		o := opts
		o.Subject = subj
		pairs, err := ExtractSubject(layout.RecordingDir(subj), events, o)
		if err != nil {
			return nil, err
		}
		all = append(all, pairs...)
		if done != nil {
			done(subj, len(pairs))
		}
	}
	return all, nil
}
