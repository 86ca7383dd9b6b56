package loadtest

import "fmt"

// Mode selects what each worker does per iteration.
type Mode string

const (
	// ModeFull runs the whole cycle per iteration: insert a row, read it
	// back and verify it, update it, then delete it.
	ModeFull Mode = "full"

	ModeInsert Mode = "insert"
	ModeSelect Mode = "select"
	ModeUpdate Mode = "update"
	ModeDelete Mode = "delete"

	// ModeMixed picks a random write per iteration at a 6:3:1
	// insert:update:delete ratio.
	ModeMixed Mode = "mixed"
)

// ParseMode validates a mode string from config or flags. The
// single-operation modes also accept an "-only" suffix, so config files
// written for similar tools keep working.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeFull, ModeInsert, ModeSelect, ModeUpdate, ModeDelete, ModeMixed:
		return Mode(s), nil
	case "insert-only":
		return ModeInsert, nil
	case "select-only":
		return ModeSelect, nil
	case "update-only":
		return ModeUpdate, nil
	case "delete-only":
		return ModeDelete, nil
	case "":
		return ModeFull, nil
	}
	return "", fmt.Errorf("unknown mode %q (want full, insert, select, update, delete, or mixed)", s)
}
