package guardrail

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripIncompleteSynergyChains(t *testing.T) {
	complete := "Synergy:\n[[Sakura-Tribe Elder]] → sacrifice → [[Meren of Clan Nel Toth]] returns it, together produce a value loop."
	assert.Equal(t, complete, StripIncompleteSynergyChains(complete))

	truncated := "Intro line.\nSynergy:\n[[Sakura-Tribe Elder]] → sacrifice →\nStep 2 keep going."
	assert.Equal(t, "Intro line.\nStep 2 keep going.", StripIncompleteSynergyChains(truncated))
}

func TestTrimIncompleteTail(t *testing.T) {
	assert.Equal(t, "Play more ramp.", TrimIncompleteTail("Play more ramp.\nAlso consider adding a few more cards that"))
	assert.Equal(t, "Short tail", TrimIncompleteTail("Short tail"))
	assert.Equal(t, "Done.\nADD [[Cultivate]] / CUT [[Divination]]", TrimIncompleteTail("Done.\nADD [[Cultivate]] / CUT [[Divination]]"))
	assert.Equal(t, "Step 1 ramp first.", TrimIncompleteTail("Step 1 ramp first.\nStep 2 then draw\nadd cards like the ones that keep"))
}

func TestStripOutro(t *testing.T) {
	assert.Equal(t, "ADD [[Cultivate]]\n", StripOutro("ADD [[Cultivate]]\n\nLet me know if you want more!"))
}

func TestNormalizeBrackets(t *testing.T) {
	assert.Equal(t, "ADD [[Cultivate]] / CUT [[Divination]]", NormalizeBrackets("ADD Cultivate / CUT Divination"))
	assert.Equal(t, "Try [[Sol Ring]] today", NormalizeBrackets("Try [[ Sol Ring ]] today"))
	assert.Equal(t, "Consider [[Cultivate]]", NormalizeBrackets("Consider [[Cultivate"))
	assert.Equal(t, "Stray close and ok", NormalizeBrackets("Stray close]] and ok"))
	assert.Equal(t, "Broken  then [[Farseek]]", NormalizeBrackets("Broken [[ then [[Farseek]]"))
}

func TestPostProcess(t *testing.T) {
	in := "ADD Cultivate / CUT Divination\nRamp is key.\n\n\n\nHope this helps!"
	assert.Equal(t, "ADD [[Cultivate]] / CUT [[Divination]]\nRamp is key.", PostProcess(in))
}
