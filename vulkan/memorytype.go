package vulkan

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// FindMemoryTypeIndex returns the first memory type permitted by memoryTypeBits whose
// property flags include every flag in required
func FindMemoryTypeIndex(props core1_0.PhysicalDeviceMemoryProperties, memoryTypeBits uint32, required core1_0.MemoryPropertyFlags) (int, error) {
	for memTypeIndex, memType := range props.MemoryTypes {
		if memTypeIndex >= 32 {
			break
		}

		memTypeBit := uint32(1) << memTypeIndex
		if memoryTypeBits&memTypeBit == 0 {
			continue
		}
		if memType.PropertyFlags&required == required {
			return memTypeIndex, nil
		}
	}

	return -1, errors.Newf("no memory type in bit mask %#x has property flags %s", memoryTypeBits, required)
}
