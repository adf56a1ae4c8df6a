package inmemdb

import (
	"sync"

	"github.com/trezcool/masomo-live/core/device"
	"github.com/trezcool/masomo-live/core/session"
	"github.com/trezcool/masomo-live/core/tenant"
)

type (
	// DB is an in-memory store. Each table has its own lock; every repository call is one critical section.
	DB struct {
		device  *deviceTable
		session *sessionTable
		tenant  *tenantTable
	}

	deviceTable struct {
		table map[string]*device.Device
		mutex sync.RWMutex
	}

	sessionTable struct {
		table map[string]*session.Session
		mutex sync.RWMutex
	}

	tenantTable struct {
		table map[string]*tenant.DeviceConfig
		mutex sync.RWMutex
	}
)

func Open() *DB {
	return &DB{
		device:  &deviceTable{table: make(map[string]*device.Device)},
		session: &sessionTable{table: make(map[string]*session.Session)},
		tenant:  &tenantTable{table: make(map[string]*tenant.DeviceConfig)},
	}
}
