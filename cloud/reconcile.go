package cloud

import (
	"sort"
)

// BytesPerGB converts the agent's byte counts to the GB unit the EC2 API
// reports volume sizes in.
const BytesPerGB = float64(1 << 30)

// EstimatedUtilization is the utilization assigned to volumes that no
// disk sample could be matched to. The exact 50.0 value is the marker
// that a gauge is an estimate rather than a measurement.
const EstimatedUtilization = 50.0

// DiskUsage is the reconciled view of one volume: measured capacity and
// usage where a sample matched, or the flat estimate where none did.
type DiskUsage struct {
	Device      string
	VolumeID    string
	VolumeType  string
	SizeGB      float64
	TotalGB     float64
	UsedGB      float64
	FreeGB      float64
	Utilization float64
	Estimated   bool
}

// SizeGB converts a byte count to GB.
func SizeGB(bytes float64) float64 {
	return bytes / BytesPerGB
}

// MatchVolume finds the volume whose size is nearest to the sampled
// capacity from above: among volumes at least as large as the sample, the
// one with the smallest size difference wins. A filesystem never exceeds
// its volume, so volumes smaller than the sample are never candidates.
// Ties keep the earlier volume in enumeration order. Returns -1 when no
// volume qualifies.
func MatchVolume(sampleGB float64, volumes []VolumeRecord) int {
	best := -1
	bestDiff := 0.0
	for i, volume := range volumes {
		diff := float64(volume.SizeGB) - sampleGB
		if diff < 0 {
			continue
		}
		if best == -1 || diff < bestDiff {
			best = i
			bestDiff = diff
		}
	}
	return best
}

// VolumeUsage reconciles disk samples against a set of volumes. Each
// sample claims at most one volume and each volume is claimed at most
// once; claimed volumes carry the measured numbers, unclaimed volumes
// fall back to the 50% estimate, and samples that match no volume are
// dropped. Samples are processed smallest first so a small filesystem
// cannot steal a large volume that a bigger filesystem needs.
func VolumeUsage(samples []DiskSample, volumes []VolumeRecord) []DiskUsage {
	ordered := make([]DiskSample, len(samples))
	copy(ordered, samples)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].TotalBytes < ordered[j].TotalBytes
	})

	usages := make([]DiskUsage, len(volumes))
	matched := make([]bool, len(volumes))

	for _, sample := range ordered {
		best := -1
		bestDiff := 0.0
		sampleGB := SizeGB(sample.TotalBytes)
		for i, volume := range volumes {
			if matched[i] {
				continue
			}
			diff := float64(volume.SizeGB) - sampleGB
			if diff < 0 {
				continue
			}
			if best == -1 || diff < bestDiff {
				best = i
				bestDiff = diff
			}
		}
		if best == -1 {
			continue
		}
		matched[best] = true
		usages[best] = measuredUsage(sample, volumes[best])
	}

	for i, volume := range volumes {
		if !matched[i] {
			usages[i] = estimatedUsage(volume)
		}
	}
	return usages
}

func measuredUsage(sample DiskSample, volume VolumeRecord) DiskUsage {
	totalGB := SizeGB(sample.TotalBytes)
	usedGB := SizeGB(sample.UsedBytes)
	utilization := 0.0
	if totalGB > 0 {
		utilization = usedGB / totalGB * 100
	}
	return DiskUsage{
		Device:      sample.Device,
		VolumeID:    volume.ID,
		VolumeType:  volume.Type,
		SizeGB:      float64(volume.SizeGB),
		TotalGB:     totalGB,
		UsedGB:      usedGB,
		FreeGB:      totalGB - usedGB,
		Utilization: utilization,
	}
}

func estimatedUsage(volume VolumeRecord) DiskUsage {
	size := float64(volume.SizeGB)
	return DiskUsage{
		VolumeID:    volume.ID,
		VolumeType:  volume.Type,
		SizeGB:      size,
		TotalGB:     size,
		UsedGB:      size / 2,
		FreeGB:      size / 2,
		Utilization: EstimatedUtilization,
		Estimated:   true,
	}
}
