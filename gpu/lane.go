package gpu

import "fmt"

// Lane is one independent queue of GPU work with its own command pool.
type Lane int

const (
	LaneGraphics Lane = iota
	LaneCompute
	LaneTransfer
)

// LaneCount is the number of lanes. The set is closed.
const LaneCount = 3

var laneNames = [LaneCount]string{
	LaneGraphics: "graphics",
	LaneCompute:  "compute",
	LaneTransfer: "transfer",
}

func (l Lane) String() string {
	if !l.Valid() {
		return fmt.Sprintf("Lane(%d)", int(l))
	}
	return laneNames[l]
}

// Valid reports whether l is one of the three lanes.
func (l Lane) Valid() bool {
	return l >= LaneGraphics && l <= LaneTransfer
}

// Lanes returns every lane in declaration order.
func Lanes() []Lane {
	return []Lane{LaneGraphics, LaneCompute, LaneTransfer}
}

// SubmissionOrder is the order lanes are submitted in within a single frame.
// Graphics goes last: it carries the frame fence and the dependency on every
// other lane, so once its fence signals the whole frame has retired.
var SubmissionOrder = [LaneCount]Lane{LaneTransfer, LaneCompute, LaneGraphics}

// PipelineStages is a set of pipeline stages a semaphore wait blocks.
type PipelineStages uint32

// These match the Vulkan VkPipelineStageFlagBits values.
const (
	StageTopOfPipe             PipelineStages = 0x00000001
	StageVertexInput           PipelineStages = 0x00000004
	StageVertexShader          PipelineStages = 0x00000008
	StageFragmentShader        PipelineStages = 0x00000080
	StageEarlyFragmentTests    PipelineStages = 0x00000100
	StageColorAttachmentOutput PipelineStages = 0x00000400
	StageComputeShader         PipelineStages = 0x00000800
	StageTransfer              PipelineStages = 0x00001000
	StageAllCommands           PipelineStages = 0x00010000
)
