package fileset

// OnOff is a range of global sample bins holding recorded data.
type OnOff struct {
	On  float64 `json:"on"`
	Off float64 `json:"off"`
}

// OnOff returns the topocentric on/off bin pairs of the timeline. A
// single file without padding has no pairs.
func (m *Metadata) OnOff() []OnOff {
	numFiles := len(m.Files)
	if numFiles == 1 && m.Files[0].PadPoints == 0 {
		return nil
	}
	pairs := []OnOff{{On: 0, Off: float64(m.Files[0].NumPoints) - 1}}
	for ii := 1; ii < numFiles; ii++ {
		last := &pairs[len(pairs)-1]
		if pad := m.Files[ii-1].PadPoints; pad != 0 {
			on := last.Off + float64(pad)
			pairs = append(pairs, OnOff{On: on, Off: on + float64(m.Files[ii].NumPoints)})
		} else {
			last.Off += float64(m.Files[ii].NumPoints)
		}
	}
	if pad := m.Files[numFiles-1].PadPoints; pad != 0 {
		on := pairs[len(pairs)-1].Off + float64(pad)
		pairs = append(pairs, OnOff{On: on, Off: on})
	}
	return pairs
}
