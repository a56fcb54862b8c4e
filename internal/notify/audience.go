// Package notify fans committed order lifecycle events out to their
// audiences: live redis pub/sub rooms for connected clients and queued
// durable notifications for events that must survive a disconnect.
package notify

import (
	"context"
	"fmt"

	"github.com/eljoodia/eljoodia-erp/internal/orders"
	"github.com/eljoodia/eljoodia-erp/internal/shared"
)

// Room names follow the socket room convention of the clients.
const (
	RoomAdmin      = "admin"
	RoomProduction = "production"
)

// BranchRoom returns the room of one branch's users.
func BranchRoom(branchID int64) string { return fmt.Sprintf("branch-%d", branchID) }

// ChefRoom returns the private room of one chef.
func ChefRoom(chefID int64) string { return fmt.Sprintf("chef-%d", chefID) }

// Rooms maps an event to the rooms it is broadcast into. Admins, production
// staff, and the owning branch hear every lifecycle event; assigned chefs
// additionally hear their own task events.
func Rooms(ev orders.Event) []string {
	rooms := []string{RoomAdmin, RoomProduction, BranchRoom(ev.BranchID)}
	if ev.Kind == orders.EventTaskAssigned {
		for _, chefID := range ev.ChefIDs {
			rooms = append(rooms, ChefRoom(chefID))
		}
	}
	return rooms
}

// DirectoryPort resolves room membership into user ids for durable delivery.
type DirectoryPort interface {
	ListUserIDsByRole(ctx context.Context, role shared.Role) ([]int64, error)
	ListUserIDsByBranch(ctx context.Context, branchID int64) ([]int64, error)
}

// Recipients resolves the user ids behind the event's rooms.
func Recipients(ctx context.Context, dir DirectoryPort, ev orders.Event) ([]int64, error) {
	seen := make(map[int64]struct{})
	var out []int64
	add := func(ids []int64) {
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	for _, room := range Rooms(ev) {
		switch room {
		case RoomAdmin:
			ids, err := dir.ListUserIDsByRole(ctx, shared.RoleAdmin)
			if err != nil {
				return nil, err
			}
			add(ids)
		case RoomProduction:
			ids, err := dir.ListUserIDsByRole(ctx, shared.RoleProduction)
			if err != nil {
				return nil, err
			}
			add(ids)
		case BranchRoom(ev.BranchID):
			ids, err := dir.ListUserIDsByBranch(ctx, ev.BranchID)
			if err != nil {
				return nil, err
			}
			add(ids)
		}
	}
	add(ev.ChefIDs)
	return out, nil
}
