package types

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/zeu5/fuzz-gym/util"
)

// EpisodeRecord summarizes one episode
type EpisodeRecord struct {
	Experiment string        `json:"experiment,omitempty"`
	Episode    int           `json:"episode"`
	Seed       int64         `json:"seed"`
	Steps      int           `json:"steps"`
	Reward     float64       `json:"reward"`
	Coverage   float64       `json:"coverage"`
	Result     string        `json:"result,omitempty"`
	Panic      string        `json:"panic,omitempty"`
	States     []int         `json:"states"`
	HorizonEnd bool          `json:"horizon_end,omitempty"`
	Err        string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Valid episodes ended without an error
func (r EpisodeRecord) Valid() bool {
	return r.Err == ""
}

// AppendRecord adds the record as one JSON line to path
func AppendRecord(path string, record EpisodeRecord) error {
	bs, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("types: encode record: %w", err)
	}
	return util.AppendToFile(path, string(bs))
}

// ReadRecords loads the records of a JSON lines file
func ReadRecords(path string) ([]EpisodeRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("types: read records: %w", err)
	}
	defer f.Close()

	records := make([]EpisodeRecord, 0)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var record EpisodeRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			return records, fmt.Errorf("types: decode record %d: %w", len(records), err)
		}
		records = append(records, record)
	}
	return records, scanner.Err()
}

// Summary aggregates the outcome of a set of episodes
type Summary struct {
	Episodes     int
	Errors       int
	Passed       int
	Failed       int
	TimedOut     int
	HorizonEnd   int
	UniqueStates int
	Reward       float64
	MaxCoverage  float64
}

func Summarize(records []EpisodeRecord) Summary {
	s := Summary{Episodes: len(records)}
	seen := make(map[int]bool)
	for _, r := range records {
		if !r.Valid() {
			s.Errors += 1
		}
		switch r.Result {
		case "PASS":
			s.Passed += 1
		case "FAIL":
			s.Failed += 1
		case "TIMEOUT":
			s.TimedOut += 1
		}
		if r.HorizonEnd {
			s.HorizonEnd += 1
		}
		for _, id := range r.States {
			seen[id] = true
		}
		s.Reward += r.Reward
		if r.Coverage > s.MaxCoverage {
			s.MaxCoverage = r.Coverage
		}
	}
	s.UniqueStates = len(seen)
	return s
}

func (s Summary) String() string {
	return fmt.Sprintf("Eps:%d, Err:%d || Pass:%d, Fail:%d, TOut:%d, Horizon:%d || States:%d, Reward:%.3f, Coverage:%.3f",
		s.Episodes, s.Errors, s.Passed, s.Failed, s.TimedOut, s.HorizonEnd, s.UniqueStates, s.Reward, s.MaxCoverage)
}
