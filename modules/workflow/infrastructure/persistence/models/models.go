package models

import "time"

type Request struct {
	ID           int64
	Creator      string
	Description  string
	State        string
	SupersededBy *int64
	Comment      string
	CommentedBy  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	AcceptedAt   *time.Time
}

type Action struct {
	ID                   int64
	RequestID            int64
	Kind                 string
	SourceProject        string
	SourcePackage        string
	SourceRev            string
	TargetProject        string
	TargetPackage        string
	TargetRepository     string
	TargetReleaseProject string
	Person               string
	GroupName            string
	Role                 string
	SourceUpdate         string
	UpdateLink           bool
	GroupedRequestIDs    []int64
	PerPackageLocking    bool
	AcceptRev            *string
	AcceptSrcMD5         *string
}

type Review struct {
	ID           int64
	RequestID    int64
	ByUser       string
	ByGroup      string
	ByProject    string
	ByPackage    string
	State        string
	Comment      string
	CommentedBy  string
	AssignedToID int64
	CreatedAt    time.Time
	ResolvedAt   *time.Time
}

type Project struct {
	Name         string
	Kind         string
	Title        string
	Flags        []byte
	Attributes   []byte
	Repositories []byte
}

type Package struct {
	Project      string
	Name         string
	Kind         string
	Flags        []byte
	Attributes   []byte
	DevelProject string
	DevelPackage string
}

type Relationship struct {
	UserLogin string
	GroupName string
	Role      string
	Project   string
	Package   string
}
