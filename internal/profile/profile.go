package profile

import (
	"OpenAgent-Chain/internal/schema"
)

// Profile 描述一名用户的档案信息，是参考流水线的结构化载荷。
type Profile struct {
	UserID     string   `json:"user_id"`
	Name       string   `json:"name"`
	Email      string   `json:"email"`
	Role       string   `json:"role"`
	Department string   `json:"department"`
	Skills     []string `json:"skills"`
	Projects   []string `json:"projects"`
	Status     string   `json:"status"`
	JoinedDate string   `json:"joined_date"`
	LastLogin  string   `json:"last_login"`
}

// StateKey 是抓取阶段写入会话状态使用的键。
const StateKey = "fetched_profile"

// Schema 返回抓取阶段输出必须满足的结构约束。
func Schema() *schema.Schema {
	return schema.New(map[string]schema.Field{
		"user_id":     {Type: schema.TypeString, Required: true},
		"name":        {Type: schema.TypeString, Required: true},
		"email":       {Type: schema.TypeString, Required: true},
		"role":        {Type: schema.TypeString, Required: true},
		"department":  {Type: schema.TypeString, Required: true},
		"skills":      {Type: schema.TypeArray, Required: true, Elem: &schema.Field{Type: schema.TypeString}},
		"projects":    {Type: schema.TypeArray, Required: true, Elem: &schema.Field{Type: schema.TypeString}},
		"status":      {Type: schema.TypeString, Required: true},
		"joined_date": {Type: schema.TypeString, Required: true},
		"last_login":  {Type: schema.TypeString, Required: true},
	})
}

// AsState 把档案转换为可直接写入会话状态的 JSON 形态对象。
func (p Profile) AsState() map[string]any {
	skills := make([]any, len(p.Skills))
	for idx, skill := range p.Skills {
		skills[idx] = skill
	}
	projects := make([]any, len(p.Projects))
	for idx, project := range p.Projects {
		projects[idx] = project
	}
	return map[string]any{
		"user_id":     p.UserID,
		"name":        p.Name,
		"email":       p.Email,
		"role":        p.Role,
		"department":  p.Department,
		"skills":      skills,
		"projects":    projects,
		"status":      p.Status,
		"joined_date": p.JoinedDate,
		"last_login":  p.LastLogin,
	}
}
