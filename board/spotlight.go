package board

import (
	"sync"

	"golang.org/x/exp/slices"
)

// follow state machine:
// FollowStateIdle
//
//	-> FollowStatePresenting (local peer is the presenter)
//	-> FollowStateFollowPending (a remote presenter appeared)
//	  -> FollowStateFollowing (explicitly accepted)
//	  -> FollowStateIdle (declined, or the presenter stopped)
type FollowState string

const (
	FollowStateIdle          FollowState = "idle"
	FollowStatePresenting    FollowState = "presenting"
	FollowStateFollowPending FollowState = "followPending"
	FollowStateFollowing     FollowState = "following"
)

// presenterId is nil on a transition to "no presenter"
type PresenterChangeFunction = func(presenterId *Id)

// applies a presenter's viewport to the local viewport
type ViewportApplyFunction = func(viewport Viewport)

// SpotlightController layers presenter detection and viewport-follow
// on the presence channel. Detection is edge-triggered: recomputing the
// same presenter from a presence update never re-fires callbacks.
type SpotlightController struct {
	presence      *PresenceChannel
	applyViewport ViewportApplyFunction

	stateLock sync.Mutex

	state       FollowState
	presenterId *Id

	presenceUnsub func()

	presenterChangeCallbacks *CallbackList[PresenterChangeFunction]
}

func NewSpotlightController(presence *PresenceChannel, applyViewport ViewportApplyFunction) *SpotlightController {
	return &SpotlightController{
		presence:                 presence,
		applyViewport:            applyViewport,
		state:                    FollowStateIdle,
		presenterChangeCallbacks: NewCallbackList[PresenterChangeFunction](),
	}
}

func (self *SpotlightController) AddPresenterChangeCallback(presenterChangeCallback PresenterChangeFunction) func() {
	callbackId := self.presenterChangeCallbacks.Add(presenterChangeCallback)
	return func() {
		self.presenterChangeCallbacks.Remove(callbackId)
	}
}

func (self *SpotlightController) Start() {
	self.presenceUnsub = self.presence.AddUpdateCallback(self.handlePresenceUpdate)
}

func (self *SpotlightController) Stop() {
	if self.presenceUnsub != nil {
		self.presenceUnsub()
		self.presenceUnsub = nil
	}
	self.stateLock.Lock()
	self.state = FollowStateIdle
	self.presenterId = nil
	self.stateLock.Unlock()
}

func (self *SpotlightController) State() FollowState {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.state
}

func (self *SpotlightController) IsFollowing() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.state == FollowStateFollowing
}

func (self *SpotlightController) PresenterId() *Id {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if self.presenterId == nil {
		return nil
	}
	presenterId := *self.presenterId
	return &presenterId
}

// StartSpotlight marks the local peer as presenting.
// The local peer never follows itself: detection scans remote records
// only.
func (self *SpotlightController) StartSpotlight() {
	self.stateLock.Lock()
	self.state = FollowStatePresenting
	self.stateLock.Unlock()
	self.presence.SetPresenting(true)
}

func (self *SpotlightController) StopSpotlight() {
	self.stateLock.Lock()
	if self.state == FollowStatePresenting {
		self.state = FollowStateIdle
	}
	self.stateLock.Unlock()
	self.presence.SetPresenting(false)
}

// AcceptFollow transitions FollowPending -> Following and snaps to the
// presenter's last broadcast viewport.
func (self *SpotlightController) AcceptFollow() bool {
	var presenterId *Id
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if self.state != FollowStateFollowPending {
			return
		}
		self.state = FollowStateFollowing
		presenterId = self.presenterId
	}()
	if presenterId == nil {
		return false
	}
	if record, ok := self.presence.PeersById()[*presenterId]; ok {
		self.applyViewport(record.Viewport)
	}
	return true
}

// DeclineFollow returns to Idle without altering the local viewport.
func (self *SpotlightController) DeclineFollow() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.state == FollowStateFollowPending {
		self.state = FollowStateIdle
	}
}

// handlePresenceUpdate scans the remote records for a presenter and
// fires callbacks only on an edge: none -> someone, someone ->
// different someone (start), or someone -> none (stop).
// While Following, every viewport update broadcast by the current
// presenter is applied one-way to the local viewport. The follower's
// own viewport is never re-broadcast as presenting.
func (self *SpotlightController) handlePresenceUpdate(peers map[Id]*PresenceRecord) {
	detected := detectPresenter(peers)

	var changedTo *Id
	changed := false
	var followViewport *Viewport
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		switch {
		case detected == nil && self.presenterId != nil:
			self.presenterId = nil
			changed = true
			if self.state == FollowStateFollowPending || self.state == FollowStateFollowing {
				self.state = FollowStateIdle
			}
		case detected != nil && (self.presenterId == nil || *self.presenterId != *detected):
			presenterId := *detected
			self.presenterId = &presenterId
			changedTo = &presenterId
			changed = true
			if self.state != FollowStatePresenting {
				self.state = FollowStateFollowPending
			}
		}

		if self.state == FollowStateFollowing && self.presenterId != nil {
			if record, ok := peers[*self.presenterId]; ok {
				viewport := record.Viewport
				followViewport = &viewport
			}
		}
	}()

	if changed {
		for _, presenterChangeCallback := range self.presenterChangeCallbacks.Get() {
			func() {
				defer recover()
				presenterChangeCallback(changedTo)
			}()
		}
	}
	if followViewport != nil {
		self.applyViewport(*followViewport)
	}
}

// detectPresenter picks the presenting remote peer.
// deterministic under churn: the lowest peer id wins when more than
// one record has presenting set.
func detectPresenter(peers map[Id]*PresenceRecord) *Id {
	presenterIds := []Id{}
	for peerId, record := range peers {
		if record.Presenting {
			presenterIds = append(presenterIds, peerId)
		}
	}
	if len(presenterIds) == 0 {
		return nil
	}
	slices.SortFunc(presenterIds, func(a Id, b Id) int {
		return slices.Compare(a.Bytes(), b.Bytes())
	})
	presenterId := presenterIds[0]
	return &presenterId
}
