package cache

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/and161185/grouptalk/internal/model"
)

func authKey(name string) string { return "auth:" + name }
func userKey(id uuid.UUID) string { return "user:" + id.String() }
func groupKey(id uuid.UUID) string { return "group:" + id.String() }
func groupPwdKey(id uuid.UUID) string { return "group_pwd:" + id.String() }
func messagesKey(id uuid.UUID) string { return "group_messages:" + id.String() }
func onlineKey(id uuid.UUID) string { return "group_online:" + id.String() }
func membersKey(id uuid.UUID) string { return "members:" + id.String() }
func userSessionKey(id uuid.UUID) string { return "user_session:" + id.String() }

// cachedAccount keeps the verification material that model.Account hides from JSON.
type cachedAccount struct {
	ID          int64      `json:"id"`
	ExternalID  uuid.UUID  `json:"externalId"`
	DisplayName string     `json:"displayName"`
	PwdHash     []byte     `json:"pwdHash"`
	Salt        []byte     `json:"salt"`
	CreatedAt   time.Time  `json:"createdAt"`
	LastLogin   *time.Time `json:"lastLogin,omitempty"`
}

func toCachedAccount(a *model.Account) cachedAccount {
	return cachedAccount{
		ID: a.ID, ExternalID: a.ExternalID, DisplayName: a.DisplayName,
		PwdHash: a.PwdHash, Salt: a.Salt, CreatedAt: a.CreatedAt, LastLogin: a.LastLogin,
	}
}

func (c cachedAccount) model() *model.Account {
	return &model.Account{
		ID: c.ID, ExternalID: c.ExternalID, DisplayName: c.DisplayName,
		PwdHash: c.PwdHash, Salt: c.Salt, CreatedAt: c.CreatedAt, LastLogin: c.LastLogin,
	}
}

type cachedGroup struct {
	ID         int64     `json:"id"`
	ExternalID uuid.UUID `json:"externalId"`
	Name       string    `json:"name"`
	OwnerID    uuid.UUID `json:"ownerId"`
	CreatedAt  time.Time `json:"createdAt"`
}

type cachedSecret struct {
	Hash []byte `json:"hash"`
	Salt []byte `json:"salt"`
}

// PutAccount stores the account under its name (with credentials) and its id.
func (c *Cache) PutAccount(a *model.Account) {
	ca := toCachedAccount(a)
	c.setJSON(authKey(a.DisplayName), ca, AuthTTL)
	c.setJSON(userKey(a.ExternalID), ca, UserTTL)
}

// AccountByName returns the cached account with credentials.
func (c *Cache) AccountByName(name string) (*model.Account, bool) {
	var ca cachedAccount
	if !c.getJSON(authKey(name), &ca) {
		return nil, false
	}
	return ca.model(), true
}

// AccountByID returns the cached account.
func (c *Cache) AccountByID(id uuid.UUID) (*model.Account, bool) {
	var ca cachedAccount
	if !c.getJSON(userKey(id), &ca) {
		return nil, false
	}
	return ca.model(), true
}

// PutGroup stores group metadata and, when set, its password material.
func (c *Cache) PutGroup(g *model.Group) {
	c.setJSON(groupKey(g.ExternalID), cachedGroup{
		ID: g.ID, ExternalID: g.ExternalID, Name: g.Name, OwnerID: g.OwnerID, CreatedAt: g.CreatedAt,
	}, GroupTTL)
	if g.HasPassword() {
		c.setJSON(groupPwdKey(g.ExternalID), cachedSecret{Hash: g.PwdHash, Salt: g.Salt}, GroupPwdTTL)
	}
}

// Group returns cached metadata. Password material is not included; see GroupPassword.
func (c *Cache) Group(id uuid.UUID) (*model.Group, bool) {
	var cg cachedGroup
	if !c.getJSON(groupKey(id), &cg) {
		return nil, false
	}
	return &model.Group{ID: cg.ID, ExternalID: cg.ExternalID, Name: cg.Name, OwnerID: cg.OwnerID, CreatedAt: cg.CreatedAt}, true
}

// GroupPassword returns cached password material of a password-protected group.
func (c *Cache) GroupPassword(id uuid.UUID) (hash, salt []byte, ok bool) {
	var s cachedSecret
	if !c.getJSON(groupPwdKey(id), &s) {
		return nil, nil, false
	}
	return s.Hash, s.Salt, true
}

// AppendMessage adds m to the group's list, keeping the newest entries only.
func (c *Cache) AppendMessage(m model.Message) {
	if !c.Enabled() {
		return
	}
	c.update(messagesKey(m.GroupID), c.msgTTL, func(cur []byte) ([]byte, error) {
		var list []model.Message
		if cur != nil {
			if err := json.Unmarshal(cur, &list); err != nil {
				c.log.Warn("corrupt message list, resetting", zap.String("group", m.GroupID.String()))
				list = nil
			}
		}
		list = append(list, m)
		if len(list) > c.msgLimit {
			list = list[len(list)-c.msgLimit:]
		}
		return json.Marshal(list)
	})
}

// Messages returns up to limit newest cached messages in insertion order.
// limit <= 0 returns the whole list.
func (c *Cache) Messages(groupID uuid.UUID, limit int) []model.Message {
	var list []model.Message
	if !c.getJSON(messagesKey(groupID), &list) {
		return nil
	}
	if limit > 0 && len(list) > limit {
		list = list[len(list)-limit:]
	}
	return list
}

// addToSet adds id to the set at key. With create false a missing set is
// left missing.
func (c *Cache) addToSet(key string, ttl time.Duration, id uuid.UUID, create bool) {
	c.update(key, ttl, func(cur []byte) ([]byte, error) {
		if cur == nil && !create {
			return nil, nil
		}
		var set []uuid.UUID
		if cur != nil {
			_ = json.Unmarshal(cur, &set)
		}
		if !slices.Contains(set, id) {
			set = append(set, id)
		}
		return json.Marshal(set)
	})
}

func (c *Cache) removeFromSet(key string, ttl time.Duration, id uuid.UUID) {
	c.update(key, ttl, func(cur []byte) ([]byte, error) {
		if cur == nil {
			return nil, nil
		}
		var set []uuid.UUID
		_ = json.Unmarshal(cur, &set)
		set = lo.Without(set, id)
		if len(set) == 0 {
			return nil, nil
		}
		return json.Marshal(set)
	})
}

// AddOnline marks the account online in the group.
func (c *Cache) AddOnline(groupID, accountID uuid.UUID) {
	c.addToSet(onlineKey(groupID), OnlineTTL, accountID, true)
}

// RemoveOnline clears the account's online flag in the group.
func (c *Cache) RemoveOnline(groupID, accountID uuid.UUID) {
	c.removeFromSet(onlineKey(groupID), OnlineTTL, accountID)
}

// SetMembers replaces the cached member set.
func (c *Cache) SetMembers(groupID uuid.UUID, ids []uuid.UUID) {
	c.setJSON(membersKey(groupID), ids, MembersTTL)
}

// AddMember adds an account to a cached member set. A set that is not cached
// stays uncached, so the next Members miss loads the full list from the store.
func (c *Cache) AddMember(groupID, accountID uuid.UUID) {
	c.addToSet(membersKey(groupID), MembersTTL, accountID, false)
}

// RemoveMember removes an account from the cached member set.
func (c *Cache) RemoveMember(groupID, accountID uuid.UUID) {
	c.removeFromSet(membersKey(groupID), MembersTTL, accountID)
}

// Members returns the cached member set; ok is false on miss.
func (c *Cache) Members(groupID uuid.UUID) ([]uuid.UUID, bool) {
	var ids []uuid.UUID
	ok := c.getJSON(membersKey(groupID), &ids)
	return ids, ok
}

// SetSession records the address an account is connected from.
func (c *Cache) SetSession(accountID uuid.UUID, remote string) {
	c.setJSON(userSessionKey(accountID), remote, SessionTTL)
}

// ClearSession removes the account's session record.
func (c *Cache) ClearSession(accountID uuid.UUID) { c.del(userSessionKey(accountID)) }

// ClearGroup drops every key belonging to the group.
func (c *Cache) ClearGroup(groupID uuid.UUID) {
	c.del(groupKey(groupID), groupPwdKey(groupID), membersKey(groupID), messagesKey(groupID), onlineKey(groupID))
}
