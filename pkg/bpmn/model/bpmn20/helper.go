package bpmn20

import "strings"

// replacedChars is the set of display-name characters that map to '_'.
const replacedChars = ":!`~^@*#¢¬ç?¦|&;%\"<>(){}[]+, \t\n"

// CanonicalHandlerName derives the canonical handler identifier for a BPMN
// display name: every character in replacedChars becomes '_', and a leading
// digit is prefixed with '_'. Every handler lookup (plain name, "$getTimeout",
// "$<flowName>", "Done" suffix) applies this mapping before the dictionary
// lookup, so it must be applied consistently at handler-module load time too.
func CanonicalHandlerName(name string) string {
	var b strings.Builder
	b.Grow(len(name) + 1)
	for _, r := range name {
		if strings.ContainsRune(replacedChars, r) {
			b.WriteByte('_')
		} else {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if len(out) > 0 && out[0] >= '0' && out[0] <= '9' {
		out = "_" + out
	}
	return out
}

// FindFirstSequenceFlow returns the first sequence flow between source and
// target, or the zero value if none exists.
func FindFirstSequenceFlow(d *TDefinitions, sourceId, targetId string) (TSequenceFlow, bool) {
	for _, sf := range d.SequenceFlowsBySource(sourceId) {
		if sf.TargetRef == targetId {
			return sf, true
		}
	}
	return TSequenceFlow{}, false
}
