package alarm

import (
	"context"
	"fmt"

	alarmdb "github.com/nao1215/siren/internal/alarm/db"
)

// RecipientPolicy はアラームの受信者を選ぶルール。
type RecipientPolicy string

const (
	// PolicyAlarmedAdmin はalarmedとadminのユーザーを受信者にする。既定のルール。
	PolicyAlarmedAdmin RecipientPolicy = "alarmed_admin"
	// PolicyAlarmed はalarmedのユーザーだけを受信者にする。
	PolicyAlarmed RecipientPolicy = "alarmed"
)

// ParseRecipientPolicy は設定値をRecipientPolicyに変換する。空文字列は既定のルールになる。
func ParseRecipientPolicy(s string) (RecipientPolicy, error) {
	switch p := RecipientPolicy(s); p {
	case "":
		return PolicyAlarmedAdmin, nil
	case PolicyAlarmedAdmin, PolicyAlarmed:
		return p, nil
	default:
		return "", fmt.Errorf("不正な受信者ルールです: %q", s)
	}
}

// roles はルールが対象とするロールを返す。
func (p RecipientPolicy) roles() (Role, Role) {
	if p == PolicyAlarmed {
		return RoleAlarmed, RoleAlarmed
	}
	return RoleAlarmed, RoleAdmin
}

// RecipientResolver はテナント内でアラームを受け取るユーザーを決める。
type RecipientResolver struct {
	queries *alarmdb.Queries
	policy  RecipientPolicy
}

// NewRecipientResolver はRecipientResolverを生成する。
func NewRecipientResolver(queries *alarmdb.Queries, policy RecipientPolicy) *RecipientResolver {
	return &RecipientResolver{queries: queries, policy: policy}
}

// ResolveRecipients はテナントの受信者をID順に返す。該当者がいなければ空のスライスになる。
func (r *RecipientResolver) ResolveRecipients(ctx context.Context, tenantID int64) ([]alarmdb.User, error) {
	role1, role2 := r.policy.roles()
	users, err := r.queries.ListUsersByTenantAndRoles(ctx, alarmdb.ListUsersByTenantAndRolesParams{
		TenantID: tenantID,
		Role1:    string(role1),
		Role2:    string(role2),
	})
	if err != nil {
		return nil, fmt.Errorf("受信者の取得に失敗: %w", err)
	}
	return users, nil
}
