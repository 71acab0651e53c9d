package memtier

import "github.com/shirou/gopsutil/mem"

// HostAvailable reports the memory the operating system considers available
// for new allocations.
func HostAvailable() (uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.Available, nil
}
