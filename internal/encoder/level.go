package encoder

import "fmt"

// Level is an H.264 level identifier (level_idc).
type Level int

const (
	LevelAuto Level = 0
	Level31   Level = 31
	Level32   Level = 32
	Level40   Level = 40
	Level41   Level = 41
	Level42   Level = 42
	Level50   Level = 50
	Level51   Level = 51
	Level52   Level = 52
)

// levelLimit carries the decoding limits of one level.
type levelLimit struct {
	level Level
	maxMBs    int // frame size in macroblocks
	maxMBRate int // macroblocks per second
}

// Ascending table of the levels this encoder selects between.
var levelLimits = []levelLimit{
	{Level31, 3600, 108000},
	{Level32, 5120, 216000},
	{Level40, 8192, 245760},
	{Level41, 8192, 245760},
	{Level42, 8704, 522240},
	{Level50, 22080, 589824},
	{Level51, 36864, 983040},
	{Level52, 36864, 2073600},
}

// PickLevel selects the lowest level whose limits cover the surface at the
// given frame rate, capped at maxLevel when non-auto.
func PickLevel(width, height, fps int, maxLevel Level) Level {
	mbs := ((width + 15) / 16) * ((height + 15) / 16)
	mbRate := mbs * fps

	selected := levelLimits[len(levelLimits)-1].level
	for _, l := range levelLimits {
		if mbs <= l.maxMBs && mbRate <= l.maxMBRate {
			selected = l.level
			break
		}
	}
	if maxLevel != LevelAuto && selected > maxLevel {
		selected = maxLevel
	}
	return selected
}

// ParseLevel maps a config string like "4.1" to a Level.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "", "auto":
		return LevelAuto, nil
	case "3.1":
		return Level31, nil
	case "3.2":
		return Level32, nil
	case "4.0":
		return Level40, nil
	case "4.1":
		return Level41, nil
	case "4.2":
		return Level42, nil
	case "5.0":
		return Level50, nil
	case "5.1":
		return Level51, nil
	case "5.2":
		return Level52, nil
	default:
		return LevelAuto, fmt.Errorf("encoder: unknown h264 level %q", s)
	}
}
