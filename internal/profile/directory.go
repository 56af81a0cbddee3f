package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Directory 提供用户档案的静态检索能力，支持从 JSON 文件加载，
// 未命中时返回 UNKNOWN 占位档案。
type Directory struct {
	entries []Profile
}

// NewDirectory 基于给定条目创建目录。
func NewDirectory(entries []Profile) *Directory {
	return &Directory{entries: entries}
}

// NewBuiltinDirectory 返回内置的演示目录。
func NewBuiltinDirectory() *Directory {
	return NewDirectory(builtinProfiles())
}

// LoadDirectory 从 JSON 文件加载档案条目。
func LoadDirectory(path string) (*Directory, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("档案文件路径不能为空")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析档案路径失败: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取档案文件失败: %w", err)
	}
	defer file.Close()

	var entries []Profile
	if err := json.NewDecoder(file).Decode(&entries); err != nil {
		return nil, fmt.Errorf("解析档案文件失败: %w", err)
	}
	return NewDirectory(entries), nil
}

// Lookup 在目录中按用户 ID 或姓名匹配查询文本。
// 任何条目都未命中时返回 UNKNOWN 档案，保证抓取阶段总有结构化输出。
func (d *Directory) Lookup(query string) Profile {
	if d == nil {
		return unknownProfile()
	}
	normalized := strings.ToLower(strings.TrimSpace(query))
	if normalized == "" {
		return unknownProfile()
	}
	for _, entry := range d.entries {
		if entry.UserID != "" && strings.Contains(normalized, strings.ToLower(entry.UserID)) {
			return entry
		}
		name := strings.ToLower(strings.TrimSpace(entry.Name))
		if name != "" && strings.Contains(normalized, name) {
			return entry
		}
	}
	// 退一步按姓或名单独匹配，贴近自然语言提问的习惯。
	for _, entry := range d.entries {
		for _, part := range strings.Fields(strings.ToLower(entry.Name)) {
			if part != "" && strings.Contains(normalized, part) {
				return entry
			}
		}
	}
	return unknownProfile()
}

// Size 返回目录内条目数。
func (d *Directory) Size() int {
	if d == nil {
		return 0
	}
	return len(d.entries)
}

func unknownProfile() Profile {
	return Profile{
		UserID:     "UNKNOWN",
		Name:       "Unknown User",
		Email:      "unknown@techcorp.com",
		Role:       "N/A",
		Department: "N/A",
		Skills:     []string{},
		Projects:   []string{},
		Status:     "inactive",
		JoinedDate: "N/A",
		LastLogin:  "N/A",
	}
}

// builtinProfiles 返回演示用的四名用户档案。
func builtinProfiles() []Profile {
	return []Profile{
		{
			UserID:     "U001",
			Name:       "Alice Johnson",
			Email:      "alice.johnson@techcorp.com",
			Role:       "Senior Data Scientist",
			Department: "AI Research",
			Skills:     []string{"Python", "TensorFlow", "NLP", "Deep Learning"},
			Projects:   []string{"Chatbot Enhancement", "Sentiment Analysis"},
			Status:     "active",
			JoinedDate: "2022-03-15",
			LastLogin:  "2025-10-02T09:15:00Z",
		},
		{
			UserID:     "U002",
			Name:       "Bob Smith",
			Email:      "bob.smith@techcorp.com",
			Role:       "Product Manager",
			Department: "Product",
			Skills:     []string{"Agile", "Product Strategy", "User Research", "Analytics"},
			Projects:   []string{"Mobile App Redesign", "Customer Portal"},
			Status:     "active",
			JoinedDate: "2021-06-20",
			LastLogin:  "2025-10-01T16:45:00Z",
		},
		{
			UserID:     "U003",
			Name:       "Carol Martinez",
			Email:      "carol.martinez@techcorp.com",
			Role:       "DevOps Engineer",
			Department: "Engineering",
			Skills:     []string{"Kubernetes", "Docker", "CI/CD", "AWS", "Terraform"},
			Projects:   []string{"Infrastructure Automation", "Cloud Migration"},
			Status:     "active",
			JoinedDate: "2023-01-10",
			LastLogin:  "2025-10-02T08:30:00Z",
		},
		{
			UserID:     "U004",
			Name:       "David Chen",
			Email:      "david.chen@techcorp.com",
			Role:       "UX Designer",
			Department: "Design",
			Skills:     []string{"Figma", "User Testing", "Wireframing", "Prototyping"},
			Projects:   []string{"Design System", "Mobile App Redesign"},
			Status:     "inactive",
			JoinedDate: "2020-11-05",
			LastLogin:  "2025-09-15T14:20:00Z",
		},
	}
}
