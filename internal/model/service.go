package model

// Service 描述一个可被反馈的公共服务领域。
type Service struct {
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Services 是公共服务目录，反馈的 service 字段必须取自这里的 Slug。
var Services = []Service{
	{Slug: "health", Name: "Health", Description: "Public hospitals, clinics and community health programmes"},
	{Slug: "education", Name: "Education", Description: "Public schools, scholarships and adult learning"},
	{Slug: "transport", Name: "Transport", Description: "Public transit, licensing and traffic management"},
	{Slug: "water", Name: "Water & Sanitation", Description: "Water supply, drainage and sewerage"},
	{Slug: "electricity", Name: "Electricity", Description: "Power supply, outages and metering"},
	{Slug: "roads", Name: "Roads & Infrastructure", Description: "Road maintenance, bridges and street lighting"},
	{Slug: "security", Name: "Public Safety", Description: "Police, fire and emergency response"},
	{Slug: "waste", Name: "Waste Management", Description: "Collection, recycling and illegal dumping"},
	{Slug: "housing", Name: "Housing", Description: "Public housing and land administration"},
	{Slug: "civil-registry", Name: "Civil Registry", Description: "Identity cards, birth and death certificates"},
}

// IsService 判断 slug 是否属于服务目录。
func IsService(slug string) bool {
	for _, s := range Services {
		if s.Slug == slug {
			return true
		}
	}
	return false
}
