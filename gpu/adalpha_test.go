package gpu

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKernelOrSkip(t *testing.T) *AdalphaKernel {
	t.Helper()
	k, err := NewAdalphaKernel()
	if err != nil {
		t.Skipf("no WebGPU adapter: %v", err)
	}
	t.Cleanup(k.Release)
	return k
}

func cpuStep(param, grad, m, v, vHat []float32, alpha, beta1, beta2, eps float32) {
	for i := range param {
		m[i] += (grad[i] - m[i]) * (1 - beta1)
		v[i] += (grad[i]*grad[i] - v[i]) * (1 - beta2)
		vi := v[i]
		if vHat != nil {
			if vi > vHat[i] {
				vHat[i] = vi
			}
			vi = vHat[i]
		}
		param[i] -= m[i] * alpha / (float32(math.Sqrt(float64(vi))) + eps)
	}
}

func TestAdalphaKernelMatchesCPU(t *testing.T) {
	k := newKernelOrSkip(t)

	const n = 600 // spans three workgroups
	param := make([]float32, n)
	grad := make([]float32, n)
	for i := range param {
		param[i] = float32(i%7) * 0.1
		grad[i] = float32(i%5-2) * 0.3
	}
	want := append([]float32(nil), param...)
	m, v, vHat := make([]float32, n), make([]float32, n), make([]float32, n)
	wm, wv, wvHat := make([]float32, n), make([]float32, n), make([]float32, n)

	for step := 0; step < 3; step++ {
		require.NoError(t, k.DenseStep("w", param, grad, m, v, vHat, 0.01, 0.9, 0.999, 1e-7))
		cpuStep(want, grad, wm, wv, wvHat, 0.01, 0.9, 0.999, 1e-7)
	}
	assert.InDeltaSlice(t, want, param, 1e-5)
	assert.InDeltaSlice(t, wm, m, 1e-6)
	assert.InDeltaSlice(t, wv, v, 1e-6)
	assert.InDeltaSlice(t, wvHat, vHat, 1e-6)
}

func TestAdalphaKernelWithoutAMSGrad(t *testing.T) {
	k := newKernelOrSkip(t)
	param := []float32{1, 2}
	m, v := make([]float32, 2), make([]float32, 2)
	require.NoError(t, k.DenseStep("b", param, []float32{0.5, -0.5}, m, v, nil, 0.1, 0.9, 0.999, 1e-7))
	assert.Less(t, param[0], float32(1))
	assert.Greater(t, param[1], float32(2))

	err := k.DenseStep("b", param, []float32{1}, m, v, nil, 0.1, 0.9, 0.999, 1e-7)
	assert.Error(t, err)
}
