// Package data provides file-backed state for uddhar. Each data file has
// explicit Load/Save methods; callers hold references, there is no ambient
// global state.
package data

import (
	"encoding/json"
	"log"
	"os"
	"time"
)

// Saver is any state file that can be flushed to disk
type Saver interface {
	Save() error
}

// StartBackgroundSave periodically flushes the given state files until the
// returned stop function is called. Stop waits out any in-flight save pass,
// so a final flush after it returns cannot interleave with the ticker.
func StartBackgroundSave(interval time.Duration, files ...Saver) func() {
	stop := make(chan bool)
	done := make(chan bool)

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				for _, f := range files {
					if err := f.Save(); err != nil {
						log.Printf("[data] background save error: %v", err)
					}
				}
			}
		}
	}()

	log.Printf("[data] background save started (every %v)", interval)
	return func() {
		close(stop)
		<-done
	}
}

//
// JSON helpers
//

func loadJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func saveJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
