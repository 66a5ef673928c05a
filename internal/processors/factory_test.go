package processors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseEnhancerKind(t *testing.T) {
	assert.Equal(t, EnhancerCodeFormer, ParseEnhancerKind("codeformer"))
	assert.Equal(t, EnhancerGFPGAN, ParseEnhancerKind("gfpgan_1.4"))
	assert.Equal(t, EnhancerGFPGAN, ParseEnhancerKind("restoreformer_plus_plus"))
}

func TestModelScaleFor(t *testing.T) {
	assert.Equal(t, 4, modelScaleFor("frame_enhancer", "real_esrgan_x4"))
	assert.Equal(t, 2, modelScaleFor("frame_enhancer_x2", "real_esrgan"))
	assert.Equal(t, 8, modelScaleFor("", "real_esrgan_x8"))
	assert.Equal(t, 4, modelScaleFor("", "real_hatgan"))
}
