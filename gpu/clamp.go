package gpu

import (
	"sync"
	"time"

	"github.com/openfluke/webgpu/wgpu"
	"github.com/pkg/errors"
)

const boxClampShader = `
	@group(0) @binding(0) var<storage, read_write> data: array<f32>;
	@group(0) @binding(1) var<uniform> params: vec4<f32>;

	@compute @workgroup_size(256)
	fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
		let i = gid.x;
		if (i >= u32(params.z)) { return; }
		data[i] = clamp(data[i], params.x, params.y);
	}
`

// ReadTimeout bounds how long a clamp waits for its result to map
var ReadTimeout = 2 * time.Second

// BoxClamper clamps every element of a vector into [lo, hi] on the GPU.
// The pipeline is compiled once. The storage and staging buffers are kept
// between calls and only grow, so a training run with a fixed batch size
// allocates them once. Calls are serialized.
type BoxClamper struct {
	mu       sync.Mutex
	ctx      *Context
	pipeline *wgpu.ComputePipeline
	params   *wgpu.Buffer

	capacity  int // floats that data and staging can hold
	data      *wgpu.Buffer
	staging   *wgpu.Buffer
	bindGroup *wgpu.BindGroup
}

// NewBoxClamper compiles the clamp pipeline on the shared context
func NewBoxClamper() (*BoxClamper, error) {
	c, err := GetContext()
	if err != nil {
		return nil, err
	}

	module, err := c.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "BoxClamp",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: boxClampShader},
	})
	if err != nil {
		return nil, errors.Wrap(err, "create shader module")
	}
	defer module.Release()

	pipeline, err := c.Device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label: "BoxClampPipeline",
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     module,
			EntryPoint: "main",
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "create compute pipeline")
	}

	params, err := c.Device.CreateBufferInit(&wgpu.BufferInitDescriptor{
		Label:    "BoxClampParams",
		Contents: wgpu.ToBytes([]float32{0, 0, 0, 0}),
		Usage:    wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		pipeline.Release()
		return nil, errors.Wrap(err, "create params buffer")
	}

	return &BoxClamper{ctx: c, pipeline: pipeline, params: params}, nil
}

// Capacity returns how many floats the clamper can process without
// reallocating its buffers
func (b *BoxClamper) Capacity() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.capacity
}

// Clamp returns a copy of data with every element clamped into [lo, hi]
func (b *BoxClamper) Clamp(data []float32, lo, hi float32) ([]float32, error) {
	if lo > hi {
		return nil, errors.Errorf("empty clamp box [%v, %v]", lo, hi)
	}
	if len(data) == 0 {
		return []float32{}, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.reserve(len(data)); err != nil {
		return nil, err
	}
	c := b.ctx
	c.Queue.WriteBuffer(b.params, 0, wgpu.ToBytes([]float32{lo, hi, float32(len(data)), 0}))
	c.Queue.WriteBuffer(b.data, 0, wgpu.ToBytes(data))

	sizeBytes := uint64(len(data) * 4)
	enc, err := c.Device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, errors.Wrap(err, "create command encoder")
	}
	pass := enc.BeginComputePass(nil)
	pass.SetPipeline(b.pipeline)
	pass.SetBindGroup(0, b.bindGroup, nil)
	pass.DispatchWorkgroups(uint32((len(data)+255)/256), 1, 1)
	pass.End()
	enc.CopyBufferToBuffer(b.data, 0, b.staging, 0, sizeBytes)

	cmd, err := enc.Finish(nil)
	if err != nil {
		return nil, errors.Wrap(err, "finish command")
	}
	c.Queue.Submit(cmd)

	return b.readStaging(len(data))
}

// reserve grows the storage and staging buffers to hold at least n floats
func (b *BoxClamper) reserve(n int) error {
	if n <= b.capacity {
		return nil
	}
	b.releaseBuffers()

	c := b.ctx
	size := uint64(n * 4)
	data, err := c.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "BoxClampData",
		Size:  size,
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst | wgpu.BufferUsageCopySrc,
	})
	if err != nil {
		return errors.Wrap(err, "create data buffer")
	}
	staging, err := c.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "BoxClampStaging",
		Size:  size,
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		data.Destroy()
		return errors.Wrap(err, "create staging buffer")
	}
	bindGroup, err := c.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "BoxClampBind",
		Layout: b.pipeline.GetBindGroupLayout(0),
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: data, Size: size},
			{Binding: 1, Buffer: b.params, Size: b.params.GetSize()},
		},
	})
	if err != nil {
		data.Destroy()
		staging.Destroy()
		return errors.Wrap(err, "create bind group")
	}

	b.data, b.staging, b.bindGroup, b.capacity = data, staging, bindGroup, n
	return nil
}

// readStaging maps the first n floats of the staging buffer and copies them out
func (b *BoxClamper) readStaging(n int) ([]float32, error) {
	c := b.ctx
	sizeBytes := uint64(n * 4)

	done := make(chan struct{})
	var mapErr error
	err := b.staging.MapAsync(wgpu.MapModeRead, 0, sizeBytes, func(status wgpu.BufferMapAsyncStatus) {
		if status != wgpu.BufferMapAsyncStatusSuccess {
			mapErr = errors.Errorf("map staging buffer: %v", status)
		}
		close(done)
	})
	if err != nil {
		return nil, errors.Wrap(err, "map staging buffer")
	}

	timeout := time.After(ReadTimeout)
	for waiting := true; waiting; {
		c.Device.Poll(false, nil)
		select {
		case <-done:
			waiting = false
		case <-timeout:
			return nil, errors.Errorf("clamp read-back timed out after %s", ReadTimeout)
		default:
			time.Sleep(time.Millisecond)
		}
	}
	if mapErr != nil {
		return nil, mapErr
	}
	defer b.staging.Unmap()

	view := b.staging.GetMappedRange(0, uint(sizeBytes))
	if view == nil {
		return nil, errors.New("staging buffer has no mapped range")
	}
	out := make([]float32, n)
	copy(out, wgpu.FromBytes[float32](view))
	return out, nil
}

func (b *BoxClamper) releaseBuffers() {
	if b.bindGroup != nil {
		b.bindGroup.Release()
	}
	if b.data != nil {
		b.data.Destroy()
	}
	if b.staging != nil {
		b.staging.Destroy()
	}
	b.data, b.staging, b.bindGroup, b.capacity = nil, nil, nil, 0
}

// Release frees the pipeline and every buffer
func (b *BoxClamper) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.releaseBuffers()
	if b.params != nil {
		b.params.Destroy()
	}
	if b.pipeline != nil {
		b.pipeline.Release()
	}
}

var (
	defaultClamper     *BoxClamper
	defaultClamperErr  error
	defaultClamperOnce sync.Once
)

// BoxClamp clamps data into [lo, hi] using a lazily compiled shared pipeline
func BoxClamp(data []float32, lo, hi float32) ([]float32, error) {
	defaultClamperOnce.Do(func() {
		defaultClamper, defaultClamperErr = NewBoxClamper()
	})
	if defaultClamperErr != nil {
		return nil, defaultClamperErr
	}
	return defaultClamper.Clamp(data, lo, hi)
}
