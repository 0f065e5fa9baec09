package gpu

import (
	"fmt"
	"sync"

	"github.com/openfluke/webgpu/wgpu"
	"github.com/pkg/errors"
)

const adalphaShader = `
struct StepParams {
	alpha: f32,
	beta1: f32,
	beta2: f32,
	epsilon: f32,
	amsgrad: f32,
	pad0: f32,
	pad1: f32,
	pad2: f32,
};

@group(0) @binding(0) var<storage, read_write> weights: array<f32>;
@group(0) @binding(1) var<storage, read> grad: array<f32>;
@group(0) @binding(2) var<storage, read_write> m: array<f32>;
@group(0) @binding(3) var<storage, read_write> v: array<f32>;
@group(0) @binding(4) var<storage, read_write> vhat: array<f32>;
@group(0) @binding(5) var<uniform> p: StepParams;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
	let i = gid.x;
	if (i >= arrayLength(&weights)) { return; }
	let g = grad[i];
	let mi = m[i] + (g - m[i]) * (1.0 - p.beta1);
	var vi = max(v[i] + (g * g - v[i]) * (1.0 - p.beta2), 0.0);
	m[i] = mi;
	v[i] = vi;
	if (p.amsgrad > 0.5) {
		vi = max(vhat[i], vi);
		vhat[i] = vi;
	}
	weights[i] = weights[i] - (mi * p.alpha) / (sqrt(vi) + p.epsilon);
}
`

// stepBuffers are the device-side copies of one parameter's tensors.
type stepBuffers struct {
	size      int
	param     *wgpu.Buffer
	grad      *wgpu.Buffer
	m         *wgpu.Buffer
	v         *wgpu.Buffer
	vhat      *wgpu.Buffer
	bindGroup *wgpu.BindGroup
}

func (b *stepBuffers) release() {
	if b.bindGroup != nil {
		b.bindGroup.Release()
	}
	for _, buf := range []*wgpu.Buffer{b.param, b.grad, b.m, b.v, b.vhat} {
		if buf != nil {
			buf.Destroy()
		}
	}
}

// AdalphaKernel runs the dense base-variant Adalpha update on the GPU.
// Host slices stay authoritative: each call uploads parameter, gradient and
// moments, dispatches one pass and reads the results back. Device buffers
// are cached per parameter key.
type AdalphaKernel struct {
	mu       sync.Mutex
	ctx      *Context
	pipeline *wgpu.ComputePipeline
	params   *wgpu.Buffer
	buffers  map[string]*stepBuffers
}

// NewAdalphaKernel compiles the update pipeline on the shared context.
func NewAdalphaKernel() (*AdalphaKernel, error) {
	c, err := GetContext()
	if err != nil {
		return nil, err
	}

	module, err := c.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "AdalphaStep",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: adalphaShader},
	})
	if err != nil {
		return nil, errors.Wrap(err, "create shader module")
	}
	defer module.Release()

	pipeline, err := c.Device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label: "AdalphaStepPipeline",
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     module,
			EntryPoint: "main",
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "create compute pipeline")
	}

	params, err := c.Device.CreateBufferInit(&wgpu.BufferInitDescriptor{
		Label:    "AdalphaStepParams",
		Contents: wgpu.ToBytes(make([]float32, 8)),
		Usage:    wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		pipeline.Release()
		return nil, errors.Wrap(err, "create params buffer")
	}

	return &AdalphaKernel{
		ctx:      c,
		pipeline: pipeline,
		params:   params,
		buffers:  make(map[string]*stepBuffers),
	}, nil
}

func (k *AdalphaKernel) ensure(key string, n int) (*stepBuffers, error) {
	if b, ok := k.buffers[key]; ok && b.size == n {
		return b, nil
	} else if ok {
		b.release()
		delete(k.buffers, key)
	}

	b := &stepBuffers{size: n}
	zeros := make([]float32, n)
	for _, slot := range []struct {
		dst   **wgpu.Buffer
		label string
	}{
		{&b.param, "param"}, {&b.grad, "grad"}, {&b.m, "m"}, {&b.v, "v"}, {&b.vhat, "vhat"},
	} {
		buf, err := NewFloatBuffer(fmt.Sprintf("%s/%s", key, slot.label), zeros)
		if err != nil {
			b.release()
			return nil, err
		}
		*slot.dst = buf
	}

	var err error
	b.bindGroup, err = k.ctx.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "AdalphaStep/" + key,
		Layout: k.pipeline.GetBindGroupLayout(0),
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: b.param, Size: b.param.GetSize()},
			{Binding: 1, Buffer: b.grad, Size: b.grad.GetSize()},
			{Binding: 2, Buffer: b.m, Size: b.m.GetSize()},
			{Binding: 3, Buffer: b.v, Size: b.v.GetSize()},
			{Binding: 4, Buffer: b.vhat, Size: b.vhat.GetSize()},
			{Binding: 5, Buffer: k.params, Size: k.params.GetSize()},
		},
	})
	if err != nil {
		b.release()
		return nil, errors.Wrap(err, "create bind group")
	}
	k.buffers[key] = b
	return b, nil
}

// DenseStep updates param, m, v and (when non-nil) vHat in place.
// The host slices are only written after every read-back succeeded.
func (k *AdalphaKernel) DenseStep(key string, param, grad, m, v, vHat []float32, alpha, beta1, beta2, epsilon float32) error {
	n := len(param)
	if len(grad) != n || len(m) != n || len(v) != n || (vHat != nil && len(vHat) != n) {
		return errors.Errorf("adalpha kernel: length mismatch for %q", key)
	}
	if n == 0 {
		return nil
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	b, err := k.ensure(key, n)
	if err != nil {
		return err
	}

	amsgrad := float32(0)
	q := k.ctx.Queue
	q.WriteBuffer(b.param, 0, wgpu.ToBytes(param))
	q.WriteBuffer(b.grad, 0, wgpu.ToBytes(grad))
	q.WriteBuffer(b.m, 0, wgpu.ToBytes(m))
	q.WriteBuffer(b.v, 0, wgpu.ToBytes(v))
	if vHat != nil {
		amsgrad = 1
		q.WriteBuffer(b.vhat, 0, wgpu.ToBytes(vHat))
	}
	q.WriteBuffer(k.params, 0, wgpu.ToBytes([]float32{alpha, beta1, beta2, epsilon, amsgrad, 0, 0, 0}))

	enc, err := k.ctx.Device.CreateCommandEncoder(nil)
	if err != nil {
		return errors.Wrap(err, "create command encoder")
	}
	pass := enc.BeginComputePass(nil)
	pass.SetPipeline(k.pipeline)
	pass.SetBindGroup(0, b.bindGroup, nil)
	pass.DispatchWorkgroups(uint32((n+255)/256), 1, 1)
	pass.End()
	cmd, err := enc.Finish(nil)
	if err != nil {
		return errors.Wrap(err, "finish step")
	}
	q.Submit(cmd)

	out := map[*wgpu.Buffer][]float32{}
	reads := []*wgpu.Buffer{b.param, b.m, b.v}
	if vHat != nil {
		reads = append(reads, b.vhat)
	}
	for _, buf := range reads {
		data, err := ReadBuffer(buf, n)
		if err != nil {
			return errors.Wrapf(err, "read back %q", key)
		}
		out[buf] = data
	}

	copy(param, out[b.param])
	copy(m, out[b.m])
	copy(v, out[b.v])
	if vHat != nil {
		copy(vHat, out[b.vhat])
	}
	return nil
}

// Release frees the pipeline and every cached buffer.
func (k *AdalphaKernel) Release() {
	k.mu.Lock()
	defer k.mu.Unlock()
	for key, b := range k.buffers {
		b.release()
		delete(k.buffers, key)
	}
	if k.params != nil {
		k.params.Destroy()
		k.params = nil
	}
	if k.pipeline != nil {
		k.pipeline.Release()
		k.pipeline = nil
	}
}
