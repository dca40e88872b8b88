package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"

	"github.com/felixgeelhaar/filldrill/internal/domain"
	"github.com/felixgeelhaar/filldrill/internal/drill"
)

// cmdProgress prints the progress of one collection, read from the daemon.
func cmdProgress(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: filldrill progress <collection>")
	}
	if !isRunning() {
		return fmt.Errorf("daemon is not running (start it with 'filldrill start')")
	}

	collection := args[0]
	resp, err := http.Get(daemonAddr + "/v1/collections/" + url.PathEscape(collection) + "/progress")
	if err != nil {
		return fmt.Errorf("get progress: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("get progress: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Questions []drill.QuestionSummary `json:"questions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("parse progress: %w", err)
	}

	printProgress(collection, body.Questions)
	return nil
}

func printProgress(collection string, questions []drill.QuestionSummary) {
	fmt.Printf("Collection: %s\n\n", collection)
	if len(questions) == 0 {
		fmt.Println("No questions yet.")
		return
	}

	sort.Slice(questions, func(i, j int) bool {
		return questions[i].QuestionID < questions[j].QuestionID
	})

	cleared := 0
	for _, q := range questions {
		fmt.Printf("%s\n", q.QuestionID)
		for _, level := range domain.Levels {
			ls, ok := q.Levels[level]
			if !ok || ls.LastPercentage == nil {
				fmt.Printf("  L%d  %s  -\n", level, renderProgressBar(0, 20))
				continue
			}
			mark := ""
			if ls.Passed {
				mark = " ✓"
			}
			fmt.Printf("  L%d  %s  %3d%%%s\n", level, renderProgressBar(*ls.LastPercentage, 20), *ls.LastPercentage, mark)
		}
		cleared += len(q.ClearedLevels)
	}

	fmt.Printf("\nCleared %d of %d levels\n", cleared, len(questions)*len(domain.Levels))
}
